package chatclient

import "sync"

// Entry is one row of a timeline.
type Entry struct {
	Message Message
	TempID  string // set for entries created locally
	State   State
}

// Timeline is the ordered local message list of one thread. Every durable id
// appears at most once.
type Timeline struct {
	mu      sync.Mutex
	entries []Entry
}

// AppendPending adds a locally composed message at the end and returns its index.
func (t *Timeline) AppendPending(msg Message, tempID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg.ID = tempID
	msg.Read = false
	t.entries = append(t.entries, Entry{Message: msg, TempID: tempID, State: StatePending})
	return len(t.entries) - 1
}

// Promote swaps the pending entry for its durable message in place. Another
// entry already holding the durable id is removed. It reports false when no
// pending entry matches tempID.
func (t *Timeline) Promote(tempID string, durable Message) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.pendingIndex(tempID)
	if idx < 0 {
		return -1, false
	}
	t.entries[idx] = Entry{Message: durable, TempID: tempID, State: StateSent}

	for i := 0; i < len(t.entries); i++ {
		if i != idx && t.entries[i].State == StateSent && t.entries[i].Message.ID == durable.ID {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			if i < idx {
				idx--
			}
			i--
		}
	}
	return idx, true
}

// Fail marks the pending entry as failed and prefixes its body with FailureMarker.
func (t *Timeline) Fail(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.pendingIndex(tempID)
	if idx < 0 {
		return false
	}
	e := &t.entries[idx]
	e.State = StateFailed
	e.Message.Body = FailureMarker + e.Message.Body
	e.Message.Read = false
	return true
}

// AppendRemote appends a durable message unless its id is already present.
func (t *Timeline) AppendRemote(msg Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.indexOf(msg.ID) >= 0 {
		return false
	}
	t.entries = append(t.entries, Entry{Message: msg, State: StateSent})
	return true
}

// Replace installs fetched history, marking it read. Pending and failed
// local entries are kept after the history.
func (t *Timeline) Replace(history []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make([]Entry, 0, len(history)+len(t.entries))
	seen := make(map[string]struct{}, len(history))
	for _, msg := range history {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		msg.Read = true
		next = append(next, Entry{Message: msg, State: StateSent})
	}
	for _, e := range t.entries {
		if e.State != StateSent {
			next = append(next, e)
		}
	}
	t.entries = next
}

// Reset empties the timeline.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

// Entries returns a copy of the current entries.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Contains reports whether a sent entry holds the durable id.
func (t *Timeline) Contains(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.indexOf(id) >= 0
}

func (t *Timeline) indexOf(id string) int {
	for i, e := range t.entries {
		if e.State == StateSent && e.Message.ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) pendingIndex(tempID string) int {
	for i, e := range t.entries {
		if e.State == StatePending && e.TempID == tempID {
			return i
		}
	}
	return -1
}

package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNoThread is returned by Send when no thread is open.
	ErrNoThread = errors.New("no chat thread open")
	// ErrEmptyMessage is returned by Send for a message without body or attachments.
	ErrEmptyMessage = errors.New("message needs a body or attachments")
	// ErrInvalidSelection is returned by OpenThread for missing or self-referencing ids.
	ErrInvalidSelection = errors.New("counterpart and patient required, counterpart must not be self")
)

// NoticeKind classifies a user notice.
type NoticeKind string

const (
	NoticeSendFailed    NoticeKind = "send_failed"
	NoticeHistoryFailed NoticeKind = "history_failed"
	NoticeTransport     NoticeKind = "transport"
	NoticeServer        NoticeKind = "server"
)

// Notice is a transient, non-fatal message for the user.
type Notice struct {
	Kind    NoticeKind
	Message string
	Err     error
}

// Session holds the open thread of one signed-in participant and its
// optimistic timeline. At most one thread is open at a time.
type Session struct {
	self    Sender
	backend Backend
	channel Channel
	logger  *zap.Logger
	now     func() time.Time

	timeline Timeline
	notices  chan Notice
	inflight sync.WaitGroup

	mu      sync.Mutex
	thread  *Thread
	joined  string
	loadErr error
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithClock overrides the time source used for pending messages.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession binds self to a backend and a realtime channel it takes ownership of.
func NewSession(self Sender, backend Backend, channel Channel, opts ...SessionOption) *Session {
	s := &Session{
		self:    self,
		backend: backend,
		channel: channel,
		logger:  zap.NewNop(),
		now:     time.Now,
		notices: make(chan Notice, 32),
	}
	for _, opt := range opts {
		opt(s)
	}
	channel.On(EventReceiveMessage, s.handleReceive)
	channel.On(EventError, func(data json.RawMessage) { s.notify(NoticeServer, errorMessage(data), nil) })
	channel.On(EventTransportError, func(data json.RawMessage) { s.notify(NoticeTransport, errorMessage(data), nil) })
	channel.On(EventReconnect, func(json.RawMessage) { s.resync() })
	return s
}

// Self returns the signed-in participant.
func (s *Session) Self() Sender { return s.self }

// Notices delivers user notices. Notices are dropped when nobody reads them.
func (s *Session) Notices() <-chan Notice { return s.notices }

// Thread returns the open thread, or nil.
func (s *Session) Thread() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread
}

// LoadErr returns the history error of the open thread, if loading failed.
func (s *Session) LoadErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// Entries returns a snapshot of the timeline.
func (s *Session) Entries() []Entry { return s.timeline.Entries() }

// OpenThread resolves the thread with counterpartID about patientID, joins
// its room and loads its history. A previously open thread is closed first.
// History failure leaves an empty timeline and is reported through LoadErr.
func (s *Session) OpenThread(ctx context.Context, counterpartID, patientID string) (*Thread, error) {
	counterpartID = strings.TrimSpace(counterpartID)
	patientID = strings.TrimSpace(patientID)
	if counterpartID == "" || patientID == "" || s.self.ID == "" || counterpartID == s.self.ID {
		return nil, ErrInvalidSelection
	}

	s.CloseThread()

	doctorID, clinicID := counterpartID, s.self.ID
	if s.self.Role == RoleDoctor {
		doctorID, clinicID = s.self.ID, counterpartID
	}
	thread, err := s.backend.GetOrCreateChat(ctx, patientID, doctorID, clinicID)
	if err != nil {
		s.notify(NoticeHistoryFailed, "could not open chat", err)
		return nil, err
	}

	s.mu.Lock()
	s.thread = thread
	s.joined = thread.ID
	s.loadErr = nil
	s.mu.Unlock()

	if err := s.channel.JoinRoom(thread.ID); err != nil {
		s.logger.Warn("join room failed, will rejoin on reconnect", zap.String("thread_id", thread.ID), zap.Error(err))
	}
	s.loadHistory(ctx, thread.ID)
	return thread, nil
}

// Send appends a pending message right away and writes it in the background.
// The returned temporary id identifies the pending entry. Only a missing
// thread or an empty message is reported as an error; write failures mark
// the entry failed and emit a notice.
func (s *Session) Send(ctx context.Context, body string, attachments ...Attachment) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" && len(attachments) == 0 {
		return "", ErrEmptyMessage
	}

	s.mu.Lock()
	thread := s.thread
	if thread == nil {
		s.mu.Unlock()
		return "", ErrNoThread
	}
	now := s.now().UTC()
	tempID := NewTempID(now)
	s.timeline.AppendPending(Message{
		ThreadID:    thread.ID,
		Sender:      s.self,
		Body:        body,
		Attachments: attachments,
		CreatedAt:   now,
	}, tempID)
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.reconcile(context.WithoutCancel(ctx), thread.ID, tempID, body, attachments)
	}()
	return tempID, nil
}

// Wait blocks until every in-flight send has settled.
func (s *Session) Wait() { s.inflight.Wait() }

// CloseThread leaves the joined room once and clears local state. Further
// calls are no-ops. In-flight sends still settle against the server.
func (s *Session) CloseThread() {
	s.mu.Lock()
	joined := s.joined
	s.joined = ""
	s.thread = nil
	s.loadErr = nil
	s.timeline.Reset()
	s.mu.Unlock()

	if joined == "" {
		return
	}
	if err := s.channel.LeaveRoom(joined); err != nil {
		s.logger.Debug("leave room failed", zap.String("thread_id", joined), zap.Error(err))
	}
}

// Close closes the open thread, waits for in-flight sends and tears down the channel.
func (s *Session) Close() {
	s.CloseThread()
	s.Wait()
	s.channel.Disconnect()
}

func (s *Session) reconcile(ctx context.Context, threadID, tempID, body string, attachments []Attachment) {
	durable, err := s.backend.SendMessage(ctx, threadID, body, attachments)

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.thread != nil && s.thread.ID == threadID

	if err != nil {
		if current {
			s.timeline.Fail(tempID)
		}
		s.logger.Warn("message send failed", zap.String("thread_id", threadID), zap.Error(err))
		s.notify(NoticeSendFailed, "message not sent", err)
		return
	}
	if !current {
		return
	}
	if _, ok := s.timeline.Promote(tempID, *durable); !ok {
		// the pending entry was replaced by a resync that predates the write
		s.timeline.AppendRemote(*durable)
	}
}

func (s *Session) handleReceive(data json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("dropping malformed message", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == nil || msg.ThreadID != s.thread.ID {
		return
	}
	if msg.Sender == s.self {
		return
	}
	s.timeline.AppendRemote(msg)
}

func (s *Session) resync() {
	s.mu.Lock()
	threadID := s.joined
	s.mu.Unlock()
	if threadID == "" {
		return
	}
	if err := s.channel.JoinRoom(threadID); err != nil {
		s.logger.Warn("rejoin room failed", zap.String("thread_id", threadID), zap.Error(err))
	}
	s.loadHistory(context.Background(), threadID)
}

func (s *Session) loadHistory(ctx context.Context, threadID string) {
	history, err := s.backend.ListMessages(ctx, threadID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == nil || s.thread.ID != threadID {
		return
	}
	if err != nil {
		s.loadErr = err
		s.notify(NoticeHistoryFailed, "could not load messages", err)
		return
	}
	s.loadErr = nil
	s.timeline.Replace(history)
}

func (s *Session) notify(kind NoticeKind, message string, err error) {
	select {
	case s.notices <- Notice{Kind: kind, Message: message, Err: err}:
	default:
		s.logger.Debug("notice dropped", zap.String("kind", string(kind)), zap.String("message", message))
	}
}

func errorMessage(data json.RawMessage) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Message == "" {
		return "unknown error"
	}
	return payload.Message
}

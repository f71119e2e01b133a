package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/clinic-chat/internal/domain"
)

// MemoryStore keeps threads and messages in process. It backs local runs without
// POSTGRES_DSN and the service tests.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	threads  map[string]*domain.ChatThread
	byKey    map[domain.ThreadKey]string
	messages map[string][]domain.Message
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		threads:  make(map[string]*domain.ChatThread),
		byKey:    make(map[domain.ThreadKey]string),
		messages: make(map[string][]domain.Message),
	}
}

// Chats exposes the store as a ChatRepository.
func (s *MemoryStore) Chats() ChatRepository { return memoryChats{s} }

// Messages exposes the store as a MessageRepository.
func (s *MemoryStore) Messages() MessageRepository { return memoryMessages{s} }

type memoryChats struct{ s *MemoryStore }

func (r memoryChats) GetOrCreate(_ context.Context, key domain.ThreadKey) (*domain.ChatThread, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if id, ok := r.s.byKey[key]; ok {
		thread := *r.s.threads[id]
		return &thread, false, nil
	}
	now := r.s.now().UTC()
	thread := &domain.ChatThread{
		ID:             uuid.NewString(),
		PatientID:      key.PatientID,
		DoctorID:       key.DoctorID,
		ClinicID:       key.ClinicID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	thread.FillParticipants()
	r.s.threads[thread.ID] = thread
	r.s.byKey[key] = thread.ID

	out := *thread
	return &out, true, nil
}

func (r memoryChats) GetByID(_ context.Context, id string) (*domain.ChatThread, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	thread, ok := r.s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *thread
	return &out, nil
}

func (r memoryChats) ListForParticipant(_ context.Context, participant domain.Sender, limit, offset int) ([]domain.ChatThread, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []domain.ChatThread
	for _, thread := range r.s.threads {
		if thread.HasParticipant(participant) {
			result = append(result, *thread)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActivityAt.After(result[j].LastActivityAt)
	})
	if limit <= 0 {
		limit = 20
	}
	if offset >= len(result) {
		return nil, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

type memoryMessages struct{ s *MemoryStore }

func (r memoryMessages) Create(_ context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	thread, ok := r.s.threads[msg.ThreadID]
	if !ok {
		return ErrNotFound
	}
	msg.ID = uuid.NewString()
	msg.CreatedAt = r.s.now().UTC()
	msg.Read = false
	thread.LastActivityAt = msg.CreatedAt

	stored := *msg
	stored.Attachments = append([]domain.Attachment(nil), msg.Attachments...)
	r.s.messages[msg.ThreadID] = append(r.s.messages[msg.ThreadID], stored)
	return nil
}

func (r memoryMessages) ListByThread(_ context.Context, threadID string) ([]domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := r.s.messages[threadID]
	result := make([]domain.Message, len(stored))
	for i, msg := range stored {
		msg.Attachments = append([]domain.Attachment(nil), msg.Attachments...)
		result[i] = msg
	}
	return result, nil
}

func (r memoryMessages) MarkRead(_ context.Context, threadID string, reader domain.Sender) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var updated int64
	stored := r.s.messages[threadID]
	for i := range stored {
		if stored[i].Read || stored[i].Sender == reader {
			continue
		}
		stored[i].Read = true
		updated++
	}
	return updated, nil
}

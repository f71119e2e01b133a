package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/clinic-chat/internal/domain"
	"github.com/spec-kit/clinic-chat/internal/events"
	"github.com/spec-kit/clinic-chat/internal/repository"
	apperrors "github.com/spec-kit/clinic-chat/pkg/util/errorutil"
)

const maxBodyLength = 4000

// ChatService coordinates chat threads and messages.
type ChatService struct {
	chats      repository.ChatRepository
	messages   repository.MessageRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// ChatDependencies bundles collaborators for the chat service.
type ChatDependencies struct {
	ChatRepo    repository.ChatRepository
	MessageRepo repository.MessageRepository
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// OpenChatInput identifies the thread triple.
type OpenChatInput struct {
	PatientID string
	DoctorID  string
	ClinicID  string
}

// SendMessageInput describes a message write.
type SendMessageInput struct {
	Body        string
	Attachments []domain.Attachment
}

// Page bounds list queries.
type Page struct {
	Limit  int
	Offset int
}

// NewChatService constructs the service.
func NewChatService(deps ChatDependencies) *ChatService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		chats:      deps.ChatRepo,
		messages:   deps.MessageRepo,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// OpenChat returns the thread for the triple, creating it on first use. The
// caller must be the doctor or the clinic of the triple.
func (s *ChatService) OpenChat(ctx context.Context, actor domain.Sender, input OpenChatInput) (*domain.ChatThread, error) {
	key := domain.ThreadKey{
		PatientID: strings.TrimSpace(input.PatientID),
		DoctorID:  strings.TrimSpace(input.DoctorID),
		ClinicID:  strings.TrimSpace(input.ClinicID),
	}
	if key.PatientID == "" || key.DoctorID == "" || key.ClinicID == "" {
		return nil, apperrors.NewValidationError("patient_id, doctor_id, clinic_id required", nil)
	}
	if key.DoctorID == key.ClinicID {
		return nil, apperrors.NewValidationError("doctor and clinic must differ", nil)
	}
	probe := domain.ChatThread{DoctorID: key.DoctorID, ClinicID: key.ClinicID}
	if !probe.HasParticipant(actor) {
		return nil, apperrors.NewForbidden("caller is not a participant of the requested chat")
	}

	thread, created, err := s.chats.GetOrCreate(ctx, key)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if created {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventChatCreated,
			ThreadID: thread.ID,
			Actor:    actor,
			Payload:  events.ChatCreatedPayload{Thread: *thread},
		})
	}
	return thread, nil
}

// ListChats returns the caller's threads, most recently active first.
func (s *ChatService) ListChats(ctx context.Context, actor domain.Sender, page Page) ([]domain.ChatThread, error) {
	threads, err := s.chats.ListForParticipant(ctx, actor, page.Limit, page.Offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return threads, nil
}

// History returns the full ordered history of a thread the caller takes part in.
func (s *ChatService) History(ctx context.Context, actor domain.Sender, threadID string) ([]domain.Message, error) {
	thread, err := s.authorizedThread(ctx, actor, threadID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByThread(ctx, thread.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// SendMessage persists a message from the caller and publishes it for fan-out.
// The store assigns the message identity.
func (s *ChatService) SendMessage(ctx context.Context, actor domain.Sender, threadID string, input SendMessageInput) (*domain.Message, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" && len(input.Attachments) == 0 {
		return nil, apperrors.NewValidationError("body or attachments required", nil)
	}
	if len(body) > maxBodyLength {
		return nil, apperrors.NewValidationError("body too long", map[string]any{"max_length": maxBodyLength})
	}
	for i, att := range input.Attachments {
		if err := att.Validate(); err != nil {
			return nil, apperrors.NewValidationError(err.Error(), map[string]any{"attachment": i})
		}
	}

	thread, err := s.authorizedThread(ctx, actor, threadID)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ThreadID:    thread.ID,
		Sender:      actor,
		Body:        body,
		Attachments: input.Attachments,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("chat", map[string]any{"chat_id": threadID})
		}
		return nil, apperrors.MapError(err)
	}
	thread.LastActivityAt = msg.CreatedAt

	s.publishEvent(ctx, events.Event{
		Type:     events.EventMessageCreated,
		ThreadID: thread.ID,
		Actor:    actor,
		Payload:  events.MessageCreatedPayload{Thread: *thread, Message: *msg},
	})
	return msg, nil
}

// MarkRead flags the counterpart's messages in the thread as read.
func (s *ChatService) MarkRead(ctx context.Context, actor domain.Sender, threadID string) (int64, error) {
	thread, err := s.authorizedThread(ctx, actor, threadID)
	if err != nil {
		return 0, err
	}
	updated, err := s.messages.MarkRead(ctx, thread.ID, actor)
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	if updated > 0 {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventMessagesRead,
			ThreadID: thread.ID,
			Actor:    actor,
			Payload:  events.MessagesReadPayload{Updated: updated},
		})
	}
	return updated, nil
}

// CanJoin reports whether the caller may subscribe to the thread's room.
func (s *ChatService) CanJoin(ctx context.Context, actor domain.Sender, threadID string) error {
	_, err := s.authorizedThread(ctx, actor, threadID)
	return err
}

func (s *ChatService) authorizedThread(ctx context.Context, actor domain.Sender, threadID string) (*domain.ChatThread, error) {
	if _, err := uuid.Parse(threadID); err != nil {
		return nil, apperrors.NewNotFound("chat", map[string]any{"chat_id": threadID})
	}
	thread, err := s.chats.GetByID(ctx, threadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("chat", map[string]any{"chat_id": threadID})
		}
		return nil, apperrors.MapError(err)
	}
	if !thread.HasParticipant(actor) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return thread, nil
}

func (s *ChatService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = s.now().UTC()
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handlers failed",
			zap.String("event_type", string(event.Type)),
			zap.String("thread_id", event.ThreadID),
			zap.Error(err))
	}
}

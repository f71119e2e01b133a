package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/clinic-chat/internal/config"
	"github.com/spec-kit/clinic-chat/internal/domain"
	"github.com/spec-kit/clinic-chat/internal/events"
	"github.com/spec-kit/clinic-chat/internal/repository"
	apperrors "github.com/spec-kit/clinic-chat/pkg/util/errorutil"
)

var (
	clinic = domain.ClinicSender("clinic-1")
	doctor = domain.DoctorSender("doctor-1")
	triple = OpenChatInput{PatientID: "patient-1", DoctorID: "doctor-1", ClinicID: "clinic-1"}
)

type recorder struct {
	events []events.Event
}

func newChatService(t *testing.T) (*ChatService, *recorder) {
	t.Helper()
	store := repository.NewMemoryStore()
	dispatcher := events.NewInMemoryDispatcher()
	rec := &recorder{}
	for _, et := range []events.EventType{events.EventChatCreated, events.EventMessageCreated, events.EventMessagesRead} {
		dispatcher.Subscribe(et, func(_ context.Context, e events.Event) error {
			rec.events = append(rec.events, e)
			return nil
		})
	}
	svc := NewChatService(ChatDependencies{
		ChatRepo:    store.Chats(),
		MessageRepo: store.Messages(),
		Dispatcher:  dispatcher,
	})
	return svc, rec
}

func TestOpenChatIsIdempotent(t *testing.T) {
	svc, rec := newChatService(t)
	ctx := context.Background()

	first, err := svc.OpenChat(ctx, clinic, triple)
	require.NoError(t, err)
	second, err := svc.OpenChat(ctx, doctor, triple)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.Len(t, rec.events, 1)
	assert.Equal(t, events.EventChatCreated, rec.events[0].Type)
	assert.NotEmpty(t, rec.events[0].ID)
	assert.Equal(t, []domain.Participant{clinic, doctor}, first.Participants)
}

func TestOpenChatValidation(t *testing.T) {
	svc, _ := newChatService(t)
	ctx := context.Background()

	_, err := svc.OpenChat(ctx, clinic, OpenChatInput{PatientID: "p", DoctorID: "", ClinicID: "clinic-1"})
	assert.True(t, apperrors.IsCode(err, "VALIDATION_FAILED"))

	_, err = svc.OpenChat(ctx, clinic, OpenChatInput{PatientID: "p", DoctorID: "clinic-1", ClinicID: "clinic-1"})
	assert.True(t, apperrors.IsCode(err, "VALIDATION_FAILED"))

	_, err = svc.OpenChat(ctx, domain.ClinicSender("clinic-2"), triple)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))

	_, err = svc.OpenChat(ctx, domain.DoctorSender("clinic-1"), triple)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))
}

func TestSendMessageAndHistory(t *testing.T) {
	svc, rec := newChatService(t)
	ctx := context.Background()
	thread, err := svc.OpenChat(ctx, clinic, triple)
	require.NoError(t, err)

	hello, err := svc.SendMessage(ctx, clinic, thread.ID, SendMessageInput{Body: "  Hello  "})
	require.NoError(t, err)
	assert.NotEmpty(t, hello.ID)
	assert.Equal(t, "Hello", hello.Body)
	assert.Equal(t, clinic, hello.Sender)
	assert.False(t, hello.Read)

	scan, err := svc.SendMessage(ctx, doctor, thread.ID, SendMessageInput{
		Attachments: []domain.Attachment{{URL: "https://cdn/scan.png", Filename: "scan.png", Type: domain.AttachmentImage}},
	})
	require.NoError(t, err)

	history, err := svc.History(ctx, doctor, thread.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, hello.ID, history[0].ID)
	assert.Equal(t, scan.ID, history[1].ID)

	var created []events.MessageCreatedPayload
	for _, e := range rec.events {
		if e.Type == events.EventMessageCreated {
			created = append(created, e.Payload.(events.MessageCreatedPayload))
		}
	}
	require.Len(t, created, 2)
	assert.Equal(t, hello.ID, created[0].Message.ID)
	assert.Equal(t, thread.ID, created[0].Thread.ID)
}

func TestSendMessageRejections(t *testing.T) {
	svc, _ := newChatService(t)
	ctx := context.Background()
	thread, err := svc.OpenChat(ctx, clinic, triple)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, clinic, thread.ID, SendMessageInput{Body: "   "})
	assert.True(t, apperrors.IsCode(err, "VALIDATION_FAILED"))

	_, err = svc.SendMessage(ctx, clinic, thread.ID, SendMessageInput{Body: strings.Repeat("x", maxBodyLength+1)})
	assert.True(t, apperrors.IsCode(err, "VALIDATION_FAILED"))

	_, err = svc.SendMessage(ctx, clinic, thread.ID, SendMessageInput{
		Attachments: []domain.Attachment{{URL: "https://cdn/a", Type: "spreadsheet"}},
	})
	assert.True(t, apperrors.IsCode(err, "VALIDATION_FAILED"))

	_, err = svc.SendMessage(ctx, domain.DoctorSender("doctor-2"), thread.ID, SendMessageInput{Body: "hi"})
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))

	_, err = svc.SendMessage(ctx, clinic, "not-a-uuid", SendMessageInput{Body: "hi"})
	assert.True(t, apperrors.IsCode(err, "NOT_FOUND"))

	_, err = svc.SendMessage(ctx, clinic, "7f1c1a56-2f4e-4a55-9d0c-2b1a5a0c9e11", SendMessageInput{Body: "hi"})
	assert.True(t, apperrors.IsCode(err, "NOT_FOUND"))
}

func TestMarkReadOnlyTouchesCounterpartMessages(t *testing.T) {
	svc, rec := newChatService(t)
	ctx := context.Background()
	thread, err := svc.OpenChat(ctx, clinic, triple)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, clinic, thread.ID, SendMessageInput{Body: "from clinic"})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, doctor, thread.ID, SendMessageInput{Body: "from doctor"})
	require.NoError(t, err)

	updated, err := svc.MarkRead(ctx, clinic, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	updated, err = svc.MarkRead(ctx, clinic, thread.ID)
	require.NoError(t, err)
	assert.Zero(t, updated)

	var reads int
	for _, e := range rec.events {
		if e.Type == events.EventMessagesRead {
			reads++
		}
	}
	assert.Equal(t, 1, reads)
}

func TestListChatsAndCanJoin(t *testing.T) {
	svc, _ := newChatService(t)
	ctx := context.Background()
	thread, err := svc.OpenChat(ctx, clinic, triple)
	require.NoError(t, err)

	threads, err := svc.ListChats(ctx, doctor, Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, thread.ID, threads[0].ID)

	assert.NoError(t, svc.CanJoin(ctx, doctor, thread.ID))
	assert.True(t, apperrors.IsCode(svc.CanJoin(ctx, domain.ClinicSender("clinic-9"), thread.ID), "FORBIDDEN"))
}

func TestNotificationServiceLogsCounterpart(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	dispatcher := events.NewInMemoryDispatcher()
	notifier := NewNotificationService(dispatcher, zap.New(core), config.NotificationConfig{
		EmailFrom:      "noreply@example.com",
		PushEndpoint:   "https://push.example.com",
		WhatsAppSender: "+15550000",
	})
	notifier.RegisterHandlers()

	store := repository.NewMemoryStore()
	svc := NewChatService(ChatDependencies{ChatRepo: store.Chats(), MessageRepo: store.Messages(), Dispatcher: dispatcher})
	ctx := context.Background()
	thread, err := svc.OpenChat(ctx, clinic, triple)
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, doctor, thread.ID, SendMessageInput{Body: strings.Repeat("é", previewLength+5)})
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("sendEmailNotificationStub").Len())
	push := logs.FilterMessage("sendPushNotificationStub").All()
	require.Len(t, push, 1)
	assert.Equal(t, "clinic:clinic-1", push[0].ContextMap()["to"])
	assert.Equal(t, 1, logs.FilterMessage("sendWhatsAppNotificationStub").Len())
}

func TestBodyPreview(t *testing.T) {
	assert.Equal(t, "hi", bodyPreview(domain.Message{Body: "hi"}))
	assert.Equal(t, "[document] labs.pdf", bodyPreview(domain.Message{
		Attachments: []domain.Attachment{{Filename: "labs.pdf", Type: domain.AttachmentDocument}},
	}))
}

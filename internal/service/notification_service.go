package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/clinic-chat/internal/config"
	"github.com/spec-kit/clinic-chat/internal/domain"
	"github.com/spec-kit/clinic-chat/internal/events"
)

const previewLength = 80

// NotificationService tells the counterpart of a chat about new activity.
// Push, email and WhatsApp delivery are stubs that only log.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventChatCreated, n.handleChatCreated)
	n.dispatcher.Subscribe(events.EventMessageCreated, n.handleMessageCreated)
}

func (n *NotificationService) handleChatCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ChatCreatedPayload)
	if !ok {
		return nil
	}
	recipient := payload.Thread.Counterpart(event.Actor)
	n.logger.Info("ChatCreated",
		zap.String("thread_id", event.ThreadID),
		zap.String("patient_id", payload.Thread.PatientID),
		zap.Stringer("recipient", recipient))
	n.sendEmailNotificationStub(ctx, event, recipient)
	return nil
}

func (n *NotificationService) handleMessageCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.MessageCreatedPayload)
	if !ok {
		return nil
	}
	recipient := payload.Thread.Counterpart(payload.Message.Sender)
	preview := bodyPreview(payload.Message)
	n.logger.Info("MessageCreated",
		zap.String("thread_id", event.ThreadID),
		zap.String("message_id", payload.Message.ID),
		zap.Stringer("recipient", recipient))
	n.sendPushNotificationStub(ctx, event, recipient, preview)
	n.sendWhatsAppNotificationStub(ctx, event, recipient, preview)
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(_ context.Context, event events.Event, recipient domain.Sender) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.Stringer("to", recipient),
		zap.String("thread_id", event.ThreadID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendPushNotificationStub(_ context.Context, event events.Event, recipient domain.Sender, preview string) {
	if strings.TrimSpace(n.cfg.PushEndpoint) == "" {
		return
	}
	n.logger.Debug("sendPushNotificationStub",
		zap.String("endpoint", n.cfg.PushEndpoint),
		zap.Stringer("to", recipient),
		zap.String("thread_id", event.ThreadID),
		zap.String("preview", preview))
}

func (n *NotificationService) sendWhatsAppNotificationStub(_ context.Context, event events.Event, recipient domain.Sender, preview string) {
	if strings.TrimSpace(n.cfg.WhatsAppSender) == "" {
		return
	}
	n.logger.Debug("sendWhatsAppNotificationStub",
		zap.String("from", n.cfg.WhatsAppSender),
		zap.Stringer("to", recipient),
		zap.String("thread_id", event.ThreadID),
		zap.String("preview", preview))
}

func bodyPreview(msg domain.Message) string {
	body := msg.Body
	if body == "" && len(msg.Attachments) > 0 {
		body = "[" + string(msg.Attachments[0].Type) + "] " + msg.Attachments[0].Filename
	}
	runes := []rune(body)
	if len(runes) > previewLength {
		return string(runes[:previewLength]) + "…"
	}
	return body
}

package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/clinic-chat/internal/api/dto"
	"github.com/spec-kit/clinic-chat/internal/events"
)

// Fanout turns persisted messages into receive_message events for the
// thread's room.
type Fanout struct {
	broker Broker
	logger *zap.Logger
}

// NewFanout creates the fan-out subscriber.
func NewFanout(broker Broker, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{broker: broker, logger: logger}
}

// RegisterHandlers subscribes to message events.
func (f *Fanout) RegisterHandlers(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventMessageCreated, f.handleMessageCreated)
}

func (f *Fanout) handleMessageCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.MessageCreatedPayload)
	if !ok {
		return nil
	}
	frame, err := Encode(EventReceiveMessage, dto.NewMessageResponse(&payload.Message))
	if err != nil {
		return err
	}
	if err := f.broker.Publish(ctx, payload.Message.ThreadID, frame); err != nil {
		f.logger.Warn("realtime publish failed",
			zap.String("thread_id", payload.Message.ThreadID),
			zap.String("message_id", payload.Message.ID),
			zap.Error(err))
		return err
	}
	return nil
}

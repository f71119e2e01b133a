package worker

import (
	"github.com/spec-kit/clinic-chat/internal/events"
	"github.com/spec-kit/clinic-chat/internal/realtime"
	"github.com/spec-kit/clinic-chat/internal/service"
)

// StartNotificationWorker registers notification handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}

// StartFanoutWorker registers the realtime fan-out on dispatcher.
func StartFanoutWorker(fanout *realtime.Fanout, dispatcher events.Dispatcher) {
	if fanout == nil || dispatcher == nil {
		return
	}
	fanout.RegisterHandlers(dispatcher)
}

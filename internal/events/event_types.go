package events

import (
	"time"

	"github.com/spec-kit/clinic-chat/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventChatCreated    EventType = "chat_created"
	EventMessageCreated EventType = "message_created"
	EventMessagesRead   EventType = "messages_read"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	ThreadID  string        `json:"thread_id"`
	Actor     domain.Sender `json:"actor"`
	Timestamp time.Time     `json:"timestamp"`
	Payload   interface{}   `json:"payload"`
}

// ChatCreatedPayload payload.
type ChatCreatedPayload struct {
	Thread domain.ChatThread `json:"thread"`
}

// MessageCreatedPayload carries the durable message for fan-out.
type MessageCreatedPayload struct {
	Thread  domain.ChatThread `json:"thread"`
	Message domain.Message    `json:"message"`
}

// MessagesReadPayload payload.
type MessagesReadPayload struct {
	Updated int64 `json:"updated"`
}

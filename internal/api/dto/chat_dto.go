package dto

import (
	"time"

	"github.com/spec-kit/clinic-chat/internal/domain"
)

// OpenChatRequest payload.
type OpenChatRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	ClinicID  string `json:"clinic_id"`
}

// SendMessageRequest payload.
type SendMessageRequest struct {
	Body        string              `json:"body"`
	Attachments []AttachmentPayload `json:"attachments"`
}

// DevTokenRequest payload.
type DevTokenRequest struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
}

// AttachmentPayload is the wire shape of an attachment in both directions.
type AttachmentPayload struct {
	URL      string                `json:"url"`
	Filename string                `json:"filename"`
	Type     domain.AttachmentType `json:"type"`
}

// SenderPayload is the tagged sender on the wire.
type SenderPayload struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
}

// ParticipantResponse is one participant of a chat.
type ParticipantResponse = SenderPayload

// ChatResponse represents a chat thread.
type ChatResponse struct {
	ID             string                `json:"id"`
	PatientID      string                `json:"patient_id"`
	DoctorID       string                `json:"doctor_id"`
	ClinicID       string                `json:"clinic_id"`
	Participants   []ParticipantResponse `json:"participants"`
	CreatedAt      time.Time             `json:"created_at"`
	LastActivityAt time.Time             `json:"last_activity_at"`
}

// MessageResponse represents a durable chat message.
type MessageResponse struct {
	ID          string              `json:"id"`
	ThreadID    string              `json:"thread_id"`
	Sender      SenderPayload       `json:"sender"`
	Body        string              `json:"body"`
	Attachments []AttachmentPayload `json:"attachments"`
	CreatedAt   time.Time           `json:"created_at"`
	Read        bool                `json:"read"`
}

// AuthResponse carries an issued token.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewChatResponse maps a thread to its wire form.
func NewChatResponse(thread *domain.ChatThread) ChatResponse {
	participants := make([]ParticipantResponse, 0, len(thread.Participants))
	for _, p := range thread.Participants {
		participants = append(participants, ParticipantResponse{ID: p.ID, Role: p.Role})
	}
	return ChatResponse{
		ID:             thread.ID,
		PatientID:      thread.PatientID,
		DoctorID:       thread.DoctorID,
		ClinicID:       thread.ClinicID,
		Participants:   participants,
		CreatedAt:      thread.CreatedAt,
		LastActivityAt: thread.LastActivityAt,
	}
}

// NewMessageResponse maps a message to its wire form.
func NewMessageResponse(msg *domain.Message) MessageResponse {
	attachments := make([]AttachmentPayload, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, AttachmentPayload{URL: att.URL, Filename: att.Filename, Type: att.Type})
	}
	return MessageResponse{
		ID:          msg.ID,
		ThreadID:    msg.ThreadID,
		Sender:      SenderPayload{ID: msg.Sender.ID, Role: msg.Sender.Role},
		Body:        msg.Body,
		Attachments: attachments,
		CreatedAt:   msg.CreatedAt,
		Read:        msg.Read,
	}
}

// ToAttachments maps request attachments to domain values.
func ToAttachments(in []AttachmentPayload) []domain.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Attachment, 0, len(in))
	for _, att := range in {
		out = append(out, domain.Attachment{URL: att.URL, Filename: att.Filename, Type: att.Type})
	}
	return out
}

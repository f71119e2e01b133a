package domain

import (
	"errors"
	"fmt"
	"time"
)

// Role tags which kind of actor sent a message.
type Role string

const (
	RoleClinic Role = "clinic"
	RoleDoctor Role = "doctor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleClinic || r == RoleDoctor
}

// Sender identifies the author of a message. Exactly one role applies.
type Sender struct {
	Role Role   `json:"role"`
	ID   string `json:"id"`
}

// ClinicSender builds a clinic-tagged sender.
func ClinicSender(id string) Sender { return Sender{Role: RoleClinic, ID: id} }

// DoctorSender builds a doctor-tagged sender.
func DoctorSender(id string) Sender { return Sender{Role: RoleDoctor, ID: id} }

// Validate checks role and id.
func (s Sender) Validate() error {
	if !s.Role.Valid() {
		return fmt.Errorf("unknown sender role %q", s.Role)
	}
	if s.ID == "" {
		return errors.New("sender id required")
	}
	return nil
}

func (s Sender) String() string {
	return string(s.Role) + ":" + s.ID
}

// AttachmentType is the closed set of attachment kinds.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentDocument AttachmentType = "document"
	AttachmentOther    AttachmentType = "other"
)

// Valid reports whether t is one of the supported attachment types.
func (t AttachmentType) Valid() bool {
	switch t {
	case AttachmentImage, AttachmentVideo, AttachmentAudio, AttachmentDocument, AttachmentOther:
		return true
	}
	return false
}

// Attachment references an uploaded file.
type Attachment struct {
	URL      string         `json:"url"`
	Filename string         `json:"filename"`
	Type     AttachmentType `json:"type"`
}

// Validate checks the attachment descriptor.
func (a Attachment) Validate() error {
	if a.URL == "" {
		return errors.New("attachment url required")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("unknown attachment type %q", a.Type)
	}
	return nil
}

// Message is a persisted chat message. Only Read changes after creation.
type Message struct {
	ID          string
	ThreadID    string
	Sender      Sender
	Body        string
	Attachments []Attachment
	CreatedAt   time.Time
	Read        bool
}

// Package chatclient is the participant-side SDK for clinic chat: an HTTP API
// client, a reconnecting realtime channel, and a Session that keeps an
// optimistic local timeline for one open thread.
package chatclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role tags the kind of participant.
type Role string

const (
	RoleClinic Role = "clinic"
	RoleDoctor Role = "doctor"
)

// Sender identifies a participant. Two senders are the same actor only when
// both role and id match.
type Sender struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Clinic returns a clinic sender.
func Clinic(id string) Sender { return Sender{ID: id, Role: RoleClinic} }

// Doctor returns a doctor sender.
func Doctor(id string) Sender { return Sender{ID: id, Role: RoleDoctor} }

func (s Sender) String() string { return string(s.Role) + ":" + s.ID }

// Attachment is a file reference carried by a message.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
}

// Message mirrors the server's message representation.
type Message struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"thread_id"`
	Sender      Sender       `json:"sender"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"created_at"`
	Read        bool         `json:"read"`
}

// Thread mirrors the server's chat thread.
type Thread struct {
	ID             string    `json:"id"`
	PatientID      string    `json:"patient_id"`
	DoctorID       string    `json:"doctor_id"`
	ClinicID       string    `json:"clinic_id"`
	Participants   []Sender  `json:"participants"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// State is the delivery state of a timeline entry.
type State int

const (
	// StatePending is a local message whose durable write is in flight.
	StatePending State = iota
	// StateSent is a durable message.
	StateSent
	// StateFailed is a local message whose durable write failed. It is never retried.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSent:
		return "sent"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FailureMarker is prepended to the body of a message that failed to send.
const FailureMarker = "[not sent] "

const tempIDPrefix = "tmp-"

// NewTempID returns a local identifier that cannot collide with a durable id.
func NewTempID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", tempIDPrefix, now.UnixMilli(), uuid.NewString())
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

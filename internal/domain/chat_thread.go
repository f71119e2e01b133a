package domain

import "time"

// Participant is one actor of a chat thread.
type Participant = Sender

// ChatThread is the conversation between one clinic and one doctor about one patient.
type ChatThread struct {
	ID             string
	PatientID      string
	DoctorID       string
	ClinicID       string
	Participants   []Participant
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// ThreadKey identifies the unique (patient, doctor, clinic) triple of a thread.
type ThreadKey struct {
	PatientID string
	DoctorID  string
	ClinicID  string
}

// Key returns the triple the thread is unique on.
func (t *ChatThread) Key() ThreadKey {
	return ThreadKey{PatientID: t.PatientID, DoctorID: t.DoctorID, ClinicID: t.ClinicID}
}

// FillParticipants derives Participants from the doctor and clinic ids.
func (t *ChatThread) FillParticipants() {
	t.Participants = []Participant{ClinicSender(t.ClinicID), DoctorSender(t.DoctorID)}
}

// HasParticipant reports whether s is the clinic or the doctor of the thread.
func (t *ChatThread) HasParticipant(s Sender) bool {
	switch s.Role {
	case RoleClinic:
		return s.ID != "" && s.ID == t.ClinicID
	case RoleDoctor:
		return s.ID != "" && s.ID == t.DoctorID
	default:
		return false
	}
}

// Counterpart returns the other participant relative to s.
func (t *ChatThread) Counterpart(s Sender) Sender {
	if s.Role == RoleClinic {
		return DoctorSender(t.DoctorID)
	}
	return ClinicSender(t.ClinicID)
}

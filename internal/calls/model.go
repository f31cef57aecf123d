package calls

import (
	"time"

	"github.com/google/uuid"
)

// State is a call attempt's position in the lifecycle machine:
//
//	Scheduled -> Dialing -> {AnsweredHuman, AnsweredMachine, NoAnswer, Busy, ProviderFailure}
//	          -> {Completed, VoicemailLeft, Abandoned}
type State string

const (
	StateScheduled       State = "scheduled"
	StateDialing         State = "dialing"
	StateAnsweredHuman   State = "answered_human"
	StateAnsweredMachine State = "answered_machine"
	StateNoAnswer        State = "no_answer"
	StateBusy            State = "busy"
	StateProviderFailure State = "provider_failure"
	StateCompleted       State = "completed"
	StateVoicemailLeft   State = "voicemail_left"
	StateAbandoned       State = "abandoned"
)

// Terminal reports whether the state ends the attempt.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateVoicemailLeft, StateAbandoned,
		StateNoAnswer, StateBusy, StateProviderFailure:
		return true
	}
	return false
}

// MaxAttempts caps outbound tries per appointment.
const MaxAttempts = 3

// Attempt is one outbound call try for an appointment. attempt_number is
// 1-indexed and strictly increasing per appointment.
type Attempt struct {
	ID             uuid.UUID  `json:"id"`
	AppointmentID  string     `json:"appointment_id"`
	PatientID      string     `json:"patient_id"`
	AttemptNumber  int        `json:"attempt_number"`
	ExternalCallID string     `json:"external_call_id,omitempty"`
	State          State      `json:"state"`
	AnsweredBy     string     `json:"answered_by,omitempty"` // human | machine
	Urgent         bool       `json:"urgent"`
	InitiatedAt    time.Time  `json:"initiated_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	DurationSecs   int        `json:"duration_seconds"`
}

// Succeeded reports whether the attempt reached a completed human conversation.
func (a *Attempt) Succeeded() bool {
	return a.State == StateCompleted
}

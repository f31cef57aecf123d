package patients

import (
	"strings"
	"time"
)

// PatientStatus tracks soft lifecycle state. Patients are never hard-deleted.
type PatientStatus string

const (
	StatusActive   PatientStatus = "active"
	StatusInactive PatientStatus = "inactive"
)

// Patient is the canonical identity record produced by resolution.
type Patient struct {
	ID                string        `json:"id"`  // P-<year>-<4-digit-sequence>
	Phone             string        `json:"phone"` // normalized E.164
	FullName          string        `json:"full_name"`
	DateOfBirth       string        `json:"date_of_birth,omitempty"` // YYYY-MM-DD
	Email             string        `json:"email,omitempty"`
	ProviderID        string        `json:"provider_id"`
	OptOutCalls       bool          `json:"opt_out_calls"`
	Status            PatientStatus `json:"status"`
	LastAppointmentAt time.Time     `json:"last_appointment_at"`
	CreatedAt         time.Time     `json:"created_at"`
}

// ImportRecord is a loosely-structured row from the appointment feed.
type ImportRecord struct {
	Name            string    `json:"name"`
	Phone           string    `json:"phone,omitempty"`
	DateOfBirth     string    `json:"date_of_birth,omitempty"`
	Email           string    `json:"email,omitempty"`
	ProviderID      string    `json:"provider_id"`
	AppointmentDate time.Time `json:"appointment_date"`
}

// Validate checks the identity-input constraints: a name, a provider, and at
// least one of phone / date of birth.
func (r *ImportRecord) Validate() error {
	if strings.TrimSpace(r.ProviderID) == "" {
		return ErrMissingProvider
	}
	if strings.TrimSpace(r.Name) == "" {
		return ErrValidation
	}
	if strings.TrimSpace(r.Phone) == "" && strings.TrimSpace(r.DateOfBirth) == "" {
		return ErrValidation
	}
	if strings.TrimSpace(r.Phone) != "" && NormalizePhone(r.Phone) == "" {
		return ErrValidation
	}
	return nil
}

// MatchTier identifies which resolution tier produced a match.
type MatchTier string

const (
	MatchPhone   MatchTier = "phone"
	MatchNameDOB MatchTier = "name_dob"
	MatchFuzzy   MatchTier = "fuzzy"
	MatchCreated MatchTier = "created"
)

// Confidence reports the tier's confidence ordering; higher is stronger.
func (t MatchTier) Confidence() float64 {
	switch t {
	case MatchPhone:
		return 1.0
	case MatchNameDOB:
		return 0.95
	case MatchFuzzy:
		return 0.85
	default:
		return 0
	}
}

// Resolution is the outcome of resolving one import record.
type Resolution struct {
	PatientID       string    `json:"patient_id"`
	Tier            MatchTier `json:"tier"`
	MatchConfidence float64   `json:"match_confidence"`
	Created         bool      `json:"created"`
}

package appointments

import "time"

// Status mirrors the upstream scheduling system's lifecycle.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
	StatusCompleted   Status = "completed"
)

// Appointment is owned by the upstream scheduling collaborator; this service
// only reads it.
type Appointment struct {
	ID           string    `json:"id"`
	PatientID    string    `json:"patient_id"`
	ProviderID   string    `json:"provider_id"`
	ProviderName string    `json:"provider_name"`
	StartsAt     time.Time `json:"starts_at"`
	Status       Status    `json:"status"`
}

// Active reports whether the appointment is still eligible for pre-visit
// outreach.
func (a *Appointment) Active() bool {
	return a.Status == StatusScheduled
}

package responses

import (
	"time"

	"github.com/google/uuid"
)

// UrgencyLevel buckets the maximum per-concern urgency score.
type UrgencyLevel string

const (
	UrgencyRoutine  UrgencyLevel = "routine"
	UrgencyModerate UrgencyLevel = "moderate"
	UrgencyHigh     UrgencyLevel = "high"
	UrgencyUrgent   UrgencyLevel = "urgent"
)

// Medication is one medication the patient reported.
type Medication struct {
	Name    string `json:"name"`
	Dosage  string `json:"dosage,omitempty"`
	Changed bool   `json:"changed,omitempty"`
}

// Concern is a prioritized issue the patient wants addressed at the visit.
type Concern struct {
	Description  string `json:"description"`
	UrgencyScore int    `json:"urgency_score"` // 1..10
}

// Extraction is the structured data pulled from a call transcript. Empty with
// NeedsManualReview set when the model output could not be validated.
type Extraction struct {
	Medications    []Medication `json:"medications,omitempty"`
	RefillRequests []string     `json:"refill_requests,omitempty"`
	LabStatus      string       `json:"lab_status,omitempty"`
	Concerns       []Concern    `json:"concerns,omitempty"`
	NewSymptoms    []string     `json:"new_symptoms,omitempty"`
	PatientNeeds   []string     `json:"patient_needs,omitempty"`
	OpenQuestions  []string     `json:"open_questions,omitempty"`
	// WillAttend is nil when the patient gave no clear answer.
	WillAttend *bool `json:"will_attend,omitempty"`
}

// PreVisitResponse is the durable outcome of one completed conversation. At
// most one exists per appointment, and it is immutable once persisted except
// for the provider-review annotation.
type PreVisitResponse struct {
	ID                     uuid.UUID    `json:"id"`
	AppointmentID          string       `json:"appointment_id"`
	PatientID              string       `json:"patient_id"`
	AttemptID              uuid.UUID    `json:"attempt_id"`
	RawTranscript          string       `json:"raw_transcript"`
	TranscriptRef          string       `json:"transcript_ref,omitempty"` // archive object key
	Extraction             Extraction   `json:"extraction"`
	UrgencyLevel           UrgencyLevel `json:"urgency_level"`
	RequiresUrgentCallback bool         `json:"requires_urgent_callback"`
	NeedsManualReview      bool         `json:"needs_manual_review"`
	CreatedAt              time.Time    `json:"created_at"`

	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ReviewNote string     `json:"review_note,omitempty"`
}

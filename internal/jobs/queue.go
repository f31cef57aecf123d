// Package jobs moves completed-call transcripts to the extraction worker
// through a queue, with job status tracked in DynamoDB.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tshla/previsit-platform/internal/calls"
)

// Queue is the transport between call completion and the extraction worker.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one received queue entry.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// ExtractionJob is the queue payload for one completed conversation.
type ExtractionJob struct {
	ID             string                  `json:"id"`
	AttemptID      string                  `json:"attempt_id"`
	AppointmentID  string                  `json:"appointment_id"`
	PatientID      string                  `json:"patient_id"`
	ExternalCallID string                  `json:"external_call_id"`
	Transcript     []calls.TranscriptEntry `json:"transcript"`
	CompletedAt    time.Time               `json:"completed_at"`
}

// EncodeJob serializes a job for the queue, assigning an id when missing.
func EncodeJob(job ExtractionJob) (ExtractionJob, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return ExtractionJob{}, "", fmt.Errorf("jobs: encode job: %w", err)
	}
	return job, string(body), nil
}

// DecodeJob parses a queue message body.
func DecodeJob(body string) (ExtractionJob, error) {
	var job ExtractionJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return ExtractionJob{}, fmt.Errorf("jobs: decode job: %w", err)
	}
	return job, nil
}

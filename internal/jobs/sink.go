package jobs

import (
	"context"
	"fmt"

	"github.com/tshla/previsit-platform/internal/calls"
	"github.com/tshla/previsit-platform/pkg/logging"
)

type jobTracker interface {
	PutPending(ctx context.Context, job *JobRecord) error
}

// QueueSink hands completed conversations to the extraction worker. The job
// record is written before the enqueue so a lost message is still visible as
// a stuck pending job.
type QueueSink struct {
	queue  Queue
	jobs   jobTracker
	logger *logging.Logger
}

// NewQueueSink creates a sink publishing to the given queue. jobs may be nil
// when status tracking is disabled.
func NewQueueSink(queue Queue, jobs jobTracker, logger *logging.Logger) *QueueSink {
	if queue == nil {
		panic("jobs: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueueSink{
		queue:  queue,
		jobs:   jobs,
		logger: logger.Component("extraction-sink"),
	}
}

// Submit enqueues one extraction job.
func (s *QueueSink) Submit(ctx context.Context, req calls.ExtractionRequest) error {
	job, body, err := EncodeJob(ExtractionJob{
		AttemptID:      req.AttemptID,
		AppointmentID:  req.AppointmentID,
		PatientID:      req.PatientID,
		ExternalCallID: req.ExternalCallID,
		Transcript:     req.Transcript,
		CompletedAt:    req.CompletedAt,
	})
	if err != nil {
		return err
	}
	if s.jobs != nil {
		record := &JobRecord{
			JobID:         job.ID,
			AttemptID:     job.AttemptID,
			AppointmentID: job.AppointmentID,
			PatientID:     job.PatientID,
		}
		if err := s.jobs.PutPending(ctx, record); err != nil {
			return fmt.Errorf("jobs: track job: %w", err)
		}
	}
	if err := s.queue.Send(ctx, body); err != nil {
		return err
	}
	s.logger.Info("extraction job enqueued",
		"job_id", job.ID, "appointment_id", job.AppointmentID, "attempt_id", job.AttemptID)
	return nil
}

// Ensure interface compliance
var _ calls.ExtractionSink = (*QueueSink)(nil)

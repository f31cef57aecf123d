package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tshla/previsit-platform/internal/appointments"
	"github.com/tshla/previsit-platform/internal/calls"
	"github.com/tshla/previsit-platform/internal/extraction"
	"github.com/tshla/previsit-platform/internal/patients"
	"github.com/tshla/previsit-platform/internal/responses"
	"github.com/tshla/previsit-platform/pkg/logging"
)

type jobUpdater interface {
	MarkCompleted(ctx context.Context, jobID, responseID string) error
	MarkFailed(ctx context.Context, jobID string, errMsg string) error
}

type transcriptExtractor interface {
	Extract(ctx context.Context, in extraction.Input) (*extraction.Result, error)
}

type responseCreator interface {
	Create(ctx context.Context, r *responses.PreVisitResponse) error
}

type patientGetter interface {
	GetByID(ctx context.Context, id string) (*patients.Patient, error)
}

type appointmentGetter interface {
	GetByID(ctx context.Context, id string) (*appointments.Appointment, error)
}

type attemptMarker interface {
	MarkUrgent(ctx context.Context, externalCallID string) error
}

type transcriptArchiver interface {
	Archive(ctx context.Context, appointmentID, attemptID string, transcript []calls.TranscriptEntry) (string, error)
}

type workerConfig struct {
	workers          int
	receiveBatchSize int
	receiveWaitSecs  int
}

// Worker consumes extraction jobs: it runs the transcript through the
// extractor, persists the structured response and raises urgent escalations.
// A transcript is never dropped: extraction failure still produces a
// needs-manual-review response.
type Worker struct {
	queue     Queue
	jobs      jobUpdater
	extractor transcriptExtractor
	responses responseCreator
	patients  patientGetter
	appts     appointmentGetter
	attempts  attemptMarker
	archiver  transcriptArchiver
	alerter   calls.Alerter
	logger    *logging.Logger
	cfg       workerConfig
	wg        sync.WaitGroup
}

// NewWorker creates an extraction worker. jobs, patients, appts, attempts,
// archiver and alerter are all optional.
func NewWorker(queue Queue, extractor transcriptExtractor, respStore responseCreator, logger *logging.Logger) *Worker {
	if queue == nil {
		panic("jobs: queue cannot be nil")
	}
	if extractor == nil {
		panic("jobs: extractor cannot be nil")
	}
	if respStore == nil {
		panic("jobs: response store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		queue:     queue,
		extractor: extractor,
		responses: respStore,
		logger:    logger.Component("extraction-worker"),
		cfg: workerConfig{
			workers:          2,
			receiveBatchSize: 5,
			receiveWaitSecs:  10,
		},
	}
}

// WithJobTracking records job status transitions in the given store.
func (w *Worker) WithJobTracking(jobs jobUpdater) *Worker {
	w.jobs = jobs
	return w
}

// WithVisitContext lets the worker enrich extraction input with patient and
// provider names.
func (w *Worker) WithVisitContext(pats patientGetter, appts appointmentGetter) *Worker {
	w.patients = pats
	w.appts = appts
	return w
}

// WithAttemptMarker propagates post-extraction urgency back onto the call
// attempt record.
func (w *Worker) WithAttemptMarker(attempts attemptMarker) *Worker {
	w.attempts = attempts
	return w
}

// WithArchiver stores raw transcripts out-of-band and keeps the reference.
func (w *Worker) WithArchiver(archiver transcriptArchiver) *Worker {
	w.archiver = archiver
	return w
}

// WithAlerter raises urgent escalations for high-risk extractions.
func (w *Worker) WithAlerter(alerter calls.Alerter) *Worker {
	w.alerter = alerter
	return w
}

// WithWorkers overrides the goroutine count.
func (w *Worker) WithWorkers(n int) *Worker {
	if n > 0 {
		w.cfg.workers = n
	}
	return w
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("extraction worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("extraction worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive extraction jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	job, err := DecodeJob(msg.Body)
	if err != nil {
		w.logger.Error("failed to decode extraction job", "error", err)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	w.logger.Info("processing extraction job",
		"job_id", job.ID, "appointment_id", job.AppointmentID, "attempt_id", job.AttemptID)

	resp, err := w.process(ctx, job)
	if err != nil {
		if errors.Is(err, responses.ErrAlreadyExists) {
			// Redelivered job: the response is already persisted.
			w.markCompleted(ctx, job.ID, "")
			w.deleteMessage(context.Background(), msg.ReceiptHandle)
			return
		}
		w.logger.Error("extraction job failed", "error", err, "job_id", job.ID)
		w.markFailed(ctx, job.ID, err.Error())
		// The message stays on the queue for redelivery.
		return
	}

	w.markCompleted(ctx, job.ID, resp.ID.String())
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) process(ctx context.Context, job ExtractionJob) (*responses.PreVisitResponse, error) {
	in := extraction.Input{
		AppointmentID: job.AppointmentID,
		PatientID:     job.PatientID,
		Transcript:    toTurns(job.Transcript),
	}
	w.enrich(ctx, job, &in)

	result, err := w.extractor.Extract(ctx, in)
	if err != nil && result == nil {
		return nil, fmt.Errorf("jobs: extract: %w", err)
	}
	if err != nil {
		w.logger.Warn("extraction needs manual review", "error", err, "job_id", job.ID)
	}

	transcriptRef := ""
	if w.archiver != nil {
		ref, archiveErr := w.archiver.Archive(ctx, job.AppointmentID, job.AttemptID, job.Transcript)
		if archiveErr != nil {
			w.logger.Error("transcript archive failed", "error", archiveErr, "job_id", job.ID)
		} else {
			transcriptRef = ref
		}
	}

	attemptID, _ := uuid.Parse(job.AttemptID)
	resp := &responses.PreVisitResponse{
		AppointmentID:          job.AppointmentID,
		PatientID:              job.PatientID,
		AttemptID:              attemptID,
		RawTranscript:          renderTranscript(job.Transcript),
		TranscriptRef:          transcriptRef,
		Extraction:             result.Extraction,
		UrgencyLevel:           result.UrgencyLevel,
		RequiresUrgentCallback: result.RequiresUrgentCallback,
		NeedsManualReview:      result.NeedsManualReview,
	}
	if err := w.responses.Create(ctx, resp); err != nil {
		return nil, err
	}

	if result.RequiresUrgentCallback {
		w.escalate(ctx, job, result)
	}
	return resp, nil
}

// enrich fills patient and provider context best-effort; a lookup failure
// never blocks extraction.
func (w *Worker) enrich(ctx context.Context, job ExtractionJob, in *extraction.Input) {
	if w.patients != nil {
		if p, err := w.patients.GetByID(ctx, job.PatientID); err == nil {
			in.PatientName = p.FullName
		} else {
			w.logger.Warn("patient lookup failed", "error", err, "patient_id", job.PatientID)
		}
	}
	if w.appts != nil {
		if a, err := w.appts.GetByID(ctx, job.AppointmentID); err == nil {
			in.ProviderName = a.ProviderName
			in.AppointmentAt = a.StartsAt
		} else {
			w.logger.Warn("appointment lookup failed", "error", err, "appointment_id", job.AppointmentID)
		}
	}
}

func (w *Worker) escalate(ctx context.Context, job ExtractionJob, result *extraction.Result) {
	if w.attempts != nil && job.ExternalCallID != "" {
		if err := w.attempts.MarkUrgent(ctx, job.ExternalCallID); err != nil {
			w.logger.Error("failed to mark attempt urgent", "error", err, "external_call_id", job.ExternalCallID)
		}
	}
	if w.alerter == nil {
		w.logger.Warn("urgent extraction with no alerter configured", "job_id", job.ID)
		return
	}
	reason := "urgent pre-visit response"
	if len(result.RiskMatches) > 0 {
		reason = "risk phrases detected: " + strings.Join(result.RiskMatches, ", ")
	}
	alert := calls.EmergencyAlert{
		AttemptID:      job.AttemptID,
		AppointmentID:  job.AppointmentID,
		PatientID:      job.PatientID,
		ExternalCallID: job.ExternalCallID,
		Reason:         reason,
		RaisedAt:       time.Now().UTC(),
	}
	if err := w.alerter.NotifyEmergency(ctx, alert); err != nil {
		w.logger.Error("urgent escalation failed", "error", err, "job_id", job.ID)
	}
}

func (w *Worker) markCompleted(ctx context.Context, jobID, responseID string) {
	if w.jobs == nil {
		return
	}
	if err := w.jobs.MarkCompleted(ctx, jobID, responseID); err != nil {
		w.logger.Error("failed to update job status", "error", err, "job_id", jobID)
	}
}

func (w *Worker) markFailed(ctx context.Context, jobID, msg string) {
	if w.jobs == nil {
		return
	}
	if err := w.jobs.MarkFailed(ctx, jobID, msg); err != nil {
		w.logger.Error("failed to update job status", "error", err, "job_id", jobID)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete queue message", "error", err)
	}
}

func toTurns(entries []calls.TranscriptEntry) []extraction.Turn {
	turns := make([]extraction.Turn, 0, len(entries))
	for _, e := range entries {
		turns = append(turns, extraction.Turn{Role: e.Role, Text: e.Text})
	}
	return turns
}

func renderTranscript(entries []calls.TranscriptEntry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Role)
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return b.String()
}

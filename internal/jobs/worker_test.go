package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tshla/previsit-platform/internal/calls"
	"github.com/tshla/previsit-platform/internal/extraction"
	"github.com/tshla/previsit-platform/internal/responses"
)

type stubExtractor struct {
	result *extraction.Result
	err    error
	inputs []extraction.Input
}

func (s *stubExtractor) Extract(ctx context.Context, in extraction.Input) (*extraction.Result, error) {
	s.inputs = append(s.inputs, in)
	return s.result, s.err
}

type stubResponses struct {
	mu      sync.Mutex
	created []*responses.PreVisitResponse
	err     error
}

func (s *stubResponses) Create(ctx context.Context, r *responses.PreVisitResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, r)
	return nil
}

type stubAlerter struct {
	alerts []calls.EmergencyAlert
}

func (s *stubAlerter) NotifyEmergency(ctx context.Context, a calls.EmergencyAlert) error {
	s.alerts = append(s.alerts, a)
	return nil
}

type stubMarker struct {
	marked []string
}

func (s *stubMarker) MarkUrgent(ctx context.Context, externalCallID string) error {
	s.marked = append(s.marked, externalCallID)
	return nil
}

type stubTracker struct {
	completed []string
	failed    []string
}

func (s *stubTracker) MarkCompleted(ctx context.Context, jobID, responseID string) error {
	s.completed = append(s.completed, jobID)
	return nil
}

func (s *stubTracker) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	s.failed = append(s.failed, jobID)
	return nil
}

func sampleJob() ExtractionJob {
	return ExtractionJob{
		ID:             "job-1",
		AttemptID:      "2f1e3b54-0000-4000-8000-000000000001",
		AppointmentID:  "appt-1",
		PatientID:      "pat-1",
		ExternalCallID: "call_abc",
		Transcript: []calls.TranscriptEntry{
			{Role: "agent", Text: "How are you feeling?", Timestamp: time.Now()},
			{Role: "patient", Text: "Fine, just need a refill.", Timestamp: time.Now()},
		},
		CompletedAt: time.Now().UTC(),
	}
}

func encodedMessage(t *testing.T, job ExtractionJob) Message {
	t.Helper()
	_, body, err := EncodeJob(job)
	require.NoError(t, err)
	return Message{ID: "msg-1", Body: body, ReceiptHandle: "rh-1"}
}

func TestWorkerPersistsResponse(t *testing.T) {
	extractor := &stubExtractor{result: &extraction.Result{
		UrgencyLevel: responses.UrgencyRoutine,
	}}
	respStore := &stubResponses{}
	tracker := &stubTracker{}
	queue := NewMemoryQueue(4)
	w := NewWorker(queue, extractor, respStore, nil).WithJobTracking(tracker)

	w.handleMessage(context.Background(), encodedMessage(t, sampleJob()))

	require.Len(t, respStore.created, 1)
	resp := respStore.created[0]
	require.Equal(t, "appt-1", resp.AppointmentID)
	require.Contains(t, resp.RawTranscript, "patient: Fine, just need a refill.")
	require.False(t, resp.RequiresUrgentCallback)
	require.Equal(t, []string{"job-1"}, tracker.completed)
}

func TestWorkerEscalatesUrgentExtraction(t *testing.T) {
	extractor := &stubExtractor{result: &extraction.Result{
		UrgencyLevel:           responses.UrgencyUrgent,
		RequiresUrgentCallback: true,
		RiskMatches:            []string{"chest pain"},
	}}
	respStore := &stubResponses{}
	alerter := &stubAlerter{}
	marker := &stubMarker{}
	w := NewWorker(NewMemoryQueue(4), extractor, respStore, nil).
		WithAlerter(alerter).
		WithAttemptMarker(marker)

	w.handleMessage(context.Background(), encodedMessage(t, sampleJob()))

	require.Len(t, respStore.created, 1)
	require.True(t, respStore.created[0].RequiresUrgentCallback)
	require.Len(t, alerter.alerts, 1)
	require.Contains(t, alerter.alerts[0].Reason, "chest pain")
	require.Equal(t, []string{"call_abc"}, marker.marked)
}

func TestWorkerParseFailureStillPersists(t *testing.T) {
	// Extraction failure produces a manual-review response; the raw
	// transcript is never dropped.
	extractor := &stubExtractor{
		result: &extraction.Result{
			UrgencyLevel:      responses.UrgencyRoutine,
			NeedsManualReview: true,
		},
		err: extraction.ErrParseFailure,
	}
	respStore := &stubResponses{}
	tracker := &stubTracker{}
	w := NewWorker(NewMemoryQueue(4), extractor, respStore, nil).WithJobTracking(tracker)

	w.handleMessage(context.Background(), encodedMessage(t, sampleJob()))

	require.Len(t, respStore.created, 1)
	require.True(t, respStore.created[0].NeedsManualReview)
	require.NotEmpty(t, respStore.created[0].RawTranscript)
	require.Equal(t, []string{"job-1"}, tracker.completed)
}

func TestWorkerDuplicateResponseTreatedAsSuccess(t *testing.T) {
	extractor := &stubExtractor{result: &extraction.Result{UrgencyLevel: responses.UrgencyRoutine}}
	respStore := &stubResponses{err: responses.ErrAlreadyExists}
	tracker := &stubTracker{}
	w := NewWorker(NewMemoryQueue(4), extractor, respStore, nil).WithJobTracking(tracker)

	w.handleMessage(context.Background(), encodedMessage(t, sampleJob()))

	require.Equal(t, []string{"job-1"}, tracker.completed)
	require.Empty(t, tracker.failed)
}

func TestWorkerStoreFailureMarksFailed(t *testing.T) {
	extractor := &stubExtractor{result: &extraction.Result{UrgencyLevel: responses.UrgencyRoutine}}
	respStore := &stubResponses{err: errors.New("connection refused")}
	tracker := &stubTracker{}
	w := NewWorker(NewMemoryQueue(4), extractor, respStore, nil).WithJobTracking(tracker)

	w.handleMessage(context.Background(), encodedMessage(t, sampleJob()))

	require.Equal(t, []string{"job-1"}, tracker.failed)
	require.Empty(t, tracker.completed)
}

func TestWorkerRunConsumesQueue(t *testing.T) {
	extractor := &stubExtractor{result: &extraction.Result{UrgencyLevel: responses.UrgencyRoutine}}
	respStore := &stubResponses{}
	queue := NewMemoryQueue(4)
	w := NewWorker(queue, extractor, respStore, nil).WithWorkers(1)

	_, body, err := EncodeJob(sampleJob())
	require.NoError(t, err)
	require.NoError(t, queue.Send(context.Background(), body))

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		respStore.mu.Lock()
		n := len(respStore.created)
		respStore.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker did not process the job in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	w.Wait()
}

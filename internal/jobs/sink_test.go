package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tshla/previsit-platform/internal/calls"
)

type trackerStub struct {
	pending []*JobRecord
	err     error
}

func (s *trackerStub) PutPending(ctx context.Context, job *JobRecord) error {
	if s.err != nil {
		return s.err
	}
	s.pending = append(s.pending, job)
	return nil
}

func TestQueueSinkSubmits(t *testing.T) {
	queue := NewMemoryQueue(4)
	tracker := &trackerStub{}
	sink := NewQueueSink(queue, tracker, nil)

	req := calls.ExtractionRequest{
		AttemptID:      "att-1",
		AppointmentID:  "appt-1",
		PatientID:      "pat-1",
		ExternalCallID: "call_abc",
		Transcript:     []calls.TranscriptEntry{{Role: "patient", Text: "hello"}},
		CompletedAt:    time.Now().UTC(),
	}
	require.NoError(t, sink.Submit(context.Background(), req))

	require.Len(t, tracker.pending, 1)
	require.Equal(t, "appt-1", tracker.pending[0].AppointmentID)
	require.NotEmpty(t, tracker.pending[0].JobID)

	msgs, err := queue.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	job, err := DecodeJob(msgs[0].Body)
	require.NoError(t, err)
	require.Equal(t, tracker.pending[0].JobID, job.ID)
	require.Equal(t, "call_abc", job.ExternalCallID)
	require.Len(t, job.Transcript, 1)
}

func TestQueueSinkTrackingFailureBlocksEnqueue(t *testing.T) {
	queue := NewMemoryQueue(4)
	sink := NewQueueSink(queue, &trackerStub{err: errors.New("dynamo down")}, nil)

	err := sink.Submit(context.Background(), calls.ExtractionRequest{AttemptID: "att-1"})
	require.Error(t, err)

	msgs, err := queue.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Empty(t, msgs, "nothing should be enqueued when tracking fails")
}

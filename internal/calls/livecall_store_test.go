package calls

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLiveStore(t *testing.T) *LiveCallStore {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewLiveCallStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestLiveCallRoundTrip(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()

	lc := &LiveCall{
		ExternalCallID: "call_abc",
		AttemptID:      "a1",
		AppointmentID:  "APT-1",
		PatientID:      "P-2026-0001",
		PatientPhone:   "+15551234567",
		AttemptNumber:  1,
		Status:         string(StateDialing),
		StartedAt:      time.Date(2026, 3, 10, 10, 15, 0, 0, time.UTC),
	}
	require.NoError(t, store.Save(ctx, lc))

	got, err := store.Get(ctx, "call_abc")
	require.NoError(t, err)
	require.Equal(t, "APT-1", got.AppointmentID)
	require.Equal(t, string(StateDialing), got.Status)

	require.NoError(t, store.SetStatus(ctx, "call_abc", string(StateAnsweredHuman)))
	got, err = store.Get(ctx, "call_abc")
	require.NoError(t, err)
	require.Equal(t, string(StateAnsweredHuman), got.Status)
	require.False(t, got.LastActivityAt.IsZero())
}

func TestLiveCallUnknownReturnsNil(t *testing.T) {
	store := newLiveStore(t)

	got, err := store.Get(context.Background(), "call_missing")
	require.NoError(t, err)
	require.Nil(t, got)

	err = store.SetStatus(context.Background(), "call_missing", string(StateDialing))
	require.Error(t, err)
}

func TestLiveCallTranscriptAndTurns(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &LiveCall{ExternalCallID: "call_abc", Status: string(StateAnsweredHuman)}))

	entries := []TranscriptEntry{
		{Role: "agent", Text: "Hello, calling ahead of your appointment.", Timestamp: time.Date(2026, 3, 10, 10, 16, 0, 0, time.UTC)},
		{Role: "patient", Text: "Hi, yes I can talk.", Timestamp: time.Date(2026, 3, 10, 10, 16, 10, 0, time.UTC)},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendTranscript(ctx, "call_abc", e))
	}

	got, err := store.Transcript(ctx, "call_abc")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "patient", got[1].Role)

	lc, err := store.Get(ctx, "call_abc")
	require.NoError(t, err)
	require.Equal(t, 2, lc.TurnCount)
}

func TestLiveCallMarkUrgentAndDelete(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &LiveCall{ExternalCallID: "call_abc"}))
	require.NoError(t, store.MarkUrgent(ctx, "call_abc"))

	lc, err := store.Get(ctx, "call_abc")
	require.NoError(t, err)
	require.True(t, lc.Urgent)

	require.NoError(t, store.Delete(ctx, "call_abc"))
	lc, err = store.Get(ctx, "call_abc")
	require.NoError(t, err)
	require.Nil(t, lc)
}

func TestLiveCallList(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &LiveCall{ExternalCallID: "call_a", AppointmentID: "APT-1"}))
	require.NoError(t, store.Save(ctx, &LiveCall{ExternalCallID: "call_b", AppointmentID: "APT-2"}))

	live, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, live, 2)

	require.NoError(t, store.Delete(ctx, "call_a"))
	live, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "APT-2", live[0].AppointmentID)
}

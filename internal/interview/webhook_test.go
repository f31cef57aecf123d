package interview

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseCompletion(t *testing.T) {
	body := []byte(`{
		"conversation_id": "conv_42",
		"call_control_id": "call_abc",
		"transcript": [
			{"role": "agent", "text": "How are you feeling today?", "timestamp": "2026-03-10T10:31:00Z"},
			{"role": "patient", "text": "Pretty good, just need a refill.", "timestamp": "2026-03-10T10:31:05Z"}
		],
		"audio_reference": "s3://recordings/conv_42.wav",
		"duration_seconds": 212,
		"detected_emergency": false,
		"completed_at": "2026-03-10T10:35:00Z"
	}`)

	evt, err := ParseCompletion(body)
	require.NoError(t, err)
	require.Equal(t, "conv_42", evt.ConversationID)
	require.Equal(t, "call_abc", evt.ExternalCallID)
	require.Equal(t, 212, evt.DurationSeconds)
	require.Len(t, evt.Transcript, 2)
	require.Equal(t, "patient", evt.Transcript[1].Role)

	entries := evt.CallTranscript()
	require.Len(t, entries, 2)
	require.Equal(t, "Pretty good, just need a refill.", entries[1].Text)
	require.Equal(t, time.Date(2026, 3, 10, 10, 31, 5, 0, time.UTC), entries[1].Timestamp)
}

func TestParseCompletionEmergency(t *testing.T) {
	body := []byte(`{
		"conversation_id": "conv_43",
		"call_control_id": "call_def",
		"transcript": [
			{"role": "patient", "text": "I have crushing chest pain right now", "timestamp": "2026-03-10T10:31:00Z"}
		],
		"duration_seconds": 40,
		"detected_emergency": true,
		"emergency_reason": "patient reported chest pain"
	}`)

	evt, err := ParseCompletion(body)
	require.NoError(t, err)
	require.True(t, evt.DetectedEmergency)
	require.Equal(t, "patient reported chest pain", evt.EmergencyReason)
	require.False(t, evt.CompletedAt.IsZero(), "missing completed_at should default")
}

func TestParseCompletionRejectsMissingIDs(t *testing.T) {
	_, err := ParseCompletion([]byte(`{"call_control_id": "call_abc"}`))
	require.Error(t, err)

	_, err = ParseCompletion([]byte(`{"conversation_id": "conv_42"}`))
	require.Error(t, err)

	_, err = ParseCompletion([]byte(`not json`))
	require.Error(t, err)
}

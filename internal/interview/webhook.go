package interview

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tshla/previsit-platform/internal/calls"
)

// TranscriptTurn is one exchange in the completed conversation.
type TranscriptTurn struct {
	Role      string    `json:"role"` // patient | agent
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// CompletionEvent is the collaborator's conversation-end payload. Emergency
// interrupts arrive as the same shape with DetectedEmergency set and a
// possibly partial transcript.
type CompletionEvent struct {
	ConversationID    string           `json:"conversation_id"`
	ExternalCallID    string           `json:"call_control_id"`
	Transcript        []TranscriptTurn `json:"transcript"`
	AudioReference    string           `json:"audio_reference,omitempty"`
	DurationSeconds   int              `json:"duration_seconds"`
	DetectedEmergency bool             `json:"detected_emergency"`
	EmergencyReason   string           `json:"emergency_reason,omitempty"`
	CompletedAt       time.Time        `json:"completed_at"`
}

// ParseCompletion decodes and validates a completion webhook body.
func ParseCompletion(body []byte) (*CompletionEvent, error) {
	var evt CompletionEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("interview: decode completion event: %w", err)
	}
	if evt.ConversationID == "" {
		return nil, errors.New("interview: completion event missing conversation id")
	}
	if evt.ExternalCallID == "" {
		return nil, errors.New("interview: completion event missing call control id")
	}
	if evt.CompletedAt.IsZero() {
		evt.CompletedAt = time.Now().UTC()
	}
	return &evt, nil
}

// CallTranscript converts the event transcript to the call store shape.
func (e *CompletionEvent) CallTranscript() []calls.TranscriptEntry {
	if len(e.Transcript) == 0 {
		return nil
	}
	out := make([]calls.TranscriptEntry, 0, len(e.Transcript))
	for _, turn := range e.Transcript {
		out = append(out, calls.TranscriptEntry{
			Role:      turn.Role,
			Text:      turn.Text,
			Timestamp: turn.Timestamp,
		})
	}
	return out
}

package telephony

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tshla/previsit-platform/internal/calls"
)

// Event is an inbound call-control webhook.
type Event struct {
	ID         string
	EventType  string
	OccurredAt time.Time
	Payload    EventPayload
}

// EventPayload carries the provider fields this service consumes.
type EventPayload struct {
	CallControlID string `json:"call_control_id"`
	ClientState   string `json:"client_state"`
	// Result of answering machine detection: human, machine, not_sure.
	AMDResult string `json:"result"`
	// HangupCause explains why a leg terminated.
	HangupCause string `json:"hangup_cause"`
	// CallDurationSecs is populated on hangup events.
	CallDurationSecs int `json:"call_duration_secs"`
}

type webhookEnvelope struct {
	Data struct {
		ID         string          `json:"id"`
		EventType  string          `json:"event_type"`
		OccurredAt time.Time       `json:"occurred_at"`
		Payload    json.RawMessage `json:"payload"`
	} `json:"data"`
}

// ParseEvent decodes a call-control webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("telephony: parse webhook: %w", err)
	}
	if env.Data.EventType == "" {
		return nil, fmt.Errorf("telephony: webhook missing event_type")
	}
	evt := &Event{
		ID:         env.Data.ID,
		EventType:  env.Data.EventType,
		OccurredAt: env.Data.OccurredAt,
	}
	if len(env.Data.Payload) > 0 {
		if err := json.Unmarshal(env.Data.Payload, &evt.Payload); err != nil {
			return nil, fmt.Errorf("telephony: parse webhook payload: %w", err)
		}
	}
	if evt.Payload.CallControlID == "" {
		return nil, fmt.Errorf("telephony: webhook missing call_control_id")
	}
	return evt, nil
}

// ToStatusEvent maps a provider event onto the orchestrator's lifecycle
// vocabulary. The second return is false for events the orchestrator does
// not act on (ringing, playback progress and similar).
func (e *Event) ToStatusEvent() (calls.StatusEvent, bool) {
	ev := calls.StatusEvent{
		ExternalCallID: e.Payload.CallControlID,
		DurationSecs:   e.Payload.CallDurationSecs,
		OccurredAt:     e.OccurredAt,
	}
	switch e.EventType {
	case "call.answered":
		ev.EventType = "answered"
		ev.AnsweredBy = "human"
		return ev, true
	case "call.machine.detection.ended":
		if e.Payload.AMDResult != "machine" {
			// Human or inconclusive; call.answered already moved the state.
			return ev, false
		}
		ev.EventType = "answered"
		ev.AnsweredBy = "machine"
		return ev, true
	case "call.hangup":
		switch e.Payload.HangupCause {
		case "timeout", "no_answer", "originator_cancel":
			ev.EventType = "no_answer"
		case "busy", "user_busy":
			ev.EventType = "busy"
		case "call_rejected", "unspecified", "network_error":
			ev.EventType = "failed"
		default:
			ev.EventType = "hangup"
		}
		return ev, true
	case "call.failed":
		ev.EventType = "failed"
		return ev, true
	default:
		return ev, false
	}
}

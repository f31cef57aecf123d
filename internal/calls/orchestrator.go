package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tshla/previsit-platform/internal/observability/metrics"
	"github.com/tshla/previsit-platform/pkg/logging"
)

// Dialer places and controls outbound calls through the telephony provider.
type Dialer interface {
	PlaceCall(ctx context.Context, req DialRequest) (externalCallID string, err error)
	Hangup(ctx context.Context, externalCallID string) error
	LeaveVoicemail(ctx context.Context, externalCallID string, message string) error
}

// DialRequest carries everything the telephony layer needs to start a call.
type DialRequest struct {
	To            string
	AttemptID     string
	AttemptNumber int
	PatientName   string
	ProviderName  string
	AppointmentAt time.Time
}

// ExtractionRequest hands a finished conversation to the extraction pipeline.
type ExtractionRequest struct {
	AttemptID      string
	AppointmentID  string
	PatientID      string
	ExternalCallID string
	Transcript     []TranscriptEntry
	CompletedAt    time.Time
}

// ExtractionSink accepts completed conversations for structured extraction.
type ExtractionSink interface {
	Submit(ctx context.Context, req ExtractionRequest) error
}

// EmergencyAlert describes an urgent escalation raised mid-call.
type EmergencyAlert struct {
	AttemptID      string
	AppointmentID  string
	PatientID      string
	ExternalCallID string
	Reason         string
	RaisedAt       time.Time
}

// Alerter fans out urgent escalations to on-call staff.
type Alerter interface {
	NotifyEmergency(ctx context.Context, alert EmergencyAlert) error
}

// BridgeRequest identifies the answered call to hand to the interview agent.
type BridgeRequest struct {
	ExternalCallID string
	AttemptID      string
	AppointmentID  string
	PatientID      string
	AttemptNumber  int
}

// Bridge connects an answered call to the conversational interview agent.
type Bridge interface {
	Start(ctx context.Context, req BridgeRequest) (string, error)
}

// StatusEvent is a normalized telephony lifecycle event.
type StatusEvent struct {
	ExternalCallID string
	EventType      string // answered, hangup, no_answer, busy, failed
	AnsweredBy     string // human, machine, or empty
	DurationSecs   int
	OccurredAt     time.Time
}

// Orchestrator drives a call attempt through its lifecycle: dispatch, the
// telephony status machine, machine-answer handling, and conversation
// completion handoff to extraction.
type Orchestrator struct {
	attempts  *Store
	live      *LiveCallStore
	dialer    Dialer
	sink      ExtractionSink
	alerter   Alerter
	bridge    Bridge
	metrics   *metrics.CallMetrics
	logger    *logging.Logger
	voicemail string
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithCallMetrics attaches prometheus instrumentation.
func WithCallMetrics(m *metrics.CallMetrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithVoicemailMessage overrides the voicemail script left on attempts 2 and 3.
func WithVoicemailMessage(msg string) OrchestratorOption {
	return func(o *Orchestrator) { o.voicemail = msg }
}

// WithInterviewBridge hands answered calls to the interview agent. Without a
// bridge the telephony provider is assumed to connect the agent itself.
func WithInterviewBridge(b Bridge) OrchestratorOption {
	return func(o *Orchestrator) { o.bridge = b }
}

const defaultVoicemail = "Hello, this is the pre-visit team calling ahead of your upcoming appointment. Please call the clinic back at your convenience so we can prepare for your visit. Thank you."

// NewOrchestrator wires the call lifecycle engine.
func NewOrchestrator(attempts *Store, live *LiveCallStore, dialer Dialer, sink ExtractionSink, alerter Alerter, logger *logging.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	o := &Orchestrator{
		attempts:  attempts,
		live:      live,
		dialer:    dialer,
		sink:      sink,
		alerter:   alerter,
		logger:    logger.Component("orchestrator"),
		voicemail: defaultVoicemail,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DispatchRequest identifies the attempt to place.
type DispatchRequest struct {
	AppointmentID string
	PatientID     string
	PatientName   string
	PatientPhone  string
	ProviderName  string
	AppointmentAt time.Time
	AttemptNumber int
}

// Dispatch records and places one call attempt. A duplicate slot is a no-op
// so two scheduler cycles racing on the same appointment place one call.
func (o *Orchestrator) Dispatch(ctx context.Context, req DispatchRequest) error {
	attempt := &Attempt{
		AppointmentID: req.AppointmentID,
		PatientID:     req.PatientID,
		AttemptNumber: req.AttemptNumber,
	}
	if err := o.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, ErrAttemptExists) {
			o.logger.Info("attempt slot already taken, skipping dispatch",
				"appointment_id", req.AppointmentID, "attempt", req.AttemptNumber)
			return nil
		}
		return err
	}

	externalID, err := o.dialer.PlaceCall(ctx, DialRequest{
		To:            req.PatientPhone,
		AttemptID:     attempt.ID.String(),
		AttemptNumber: req.AttemptNumber,
		PatientName:   req.PatientName,
		ProviderName:  req.ProviderName,
		AppointmentAt: req.AppointmentAt,
	})
	if err != nil {
		if ferr := o.attempts.MarkFailed(ctx, attempt.ID); ferr != nil {
			o.logger.Error("mark failed after dial error", "error", ferr, "attempt_id", attempt.ID)
		}
		o.metrics.ObserveOutcome(string(StateProviderFailure))
		return fmt.Errorf("calls: place call: %w", err)
	}

	if err := o.attempts.MarkDialing(ctx, attempt.ID, externalID); err != nil {
		return err
	}
	if err := o.live.Save(ctx, &LiveCall{
		ExternalCallID: externalID,
		AttemptID:      attempt.ID.String(),
		AppointmentID:  req.AppointmentID,
		PatientID:      req.PatientID,
		PatientPhone:   req.PatientPhone,
		AttemptNumber:  req.AttemptNumber,
		Status:         string(StateDialing),
		StartedAt:      time.Now().UTC(),
		LastActivityAt: time.Now().UTC(),
	}); err != nil {
		o.logger.Error("save live call state", "error", err, "external_call_id", externalID)
	}

	o.metrics.ObserveDispatched(fmt.Sprintf("%d", req.AttemptNumber))
	o.logger.Info("call dispatched",
		"appointment_id", req.AppointmentID,
		"attempt", req.AttemptNumber,
		"external_call_id", externalID)
	return nil
}

// HandleStatus applies a telephony lifecycle event. Events are at-least-once;
// the conditional transitions make re-deliveries no-ops.
func (o *Orchestrator) HandleStatus(ctx context.Context, ev StatusEvent) error {
	start := time.Now()
	defer func() {
		o.metrics.ObserveWebhookLatency(ev.EventType, time.Since(start).Seconds())
	}()

	switch ev.EventType {
	case "answered":
		if ev.AnsweredBy == "machine" {
			return o.handleMachineAnswer(ctx, ev)
		}
		moved, err := o.attempts.Transition(ctx, ev.ExternalCallID,
			[]State{StateDialing}, StateAnsweredHuman,
			TransitionUpdate{AnsweredBy: "human"})
		if err != nil {
			return err
		}
		if moved {
			o.setLiveStatus(ctx, ev.ExternalCallID, string(StateAnsweredHuman))
			if o.bridge != nil {
				return o.bridgeInterview(ctx, ev.ExternalCallID)
			}
		}
		return nil

	case "no_answer":
		return o.terminal(ctx, ev, StateNoAnswer, []State{StateDialing})

	case "busy":
		return o.terminal(ctx, ev, StateBusy, []State{StateDialing})

	case "failed":
		return o.terminal(ctx, ev, StateProviderFailure, []State{StateScheduled, StateDialing})

	case "hangup":
		// A hangup on an answered call that never completed its
		// conversation means the patient dropped off mid-interview.
		moved, err := o.attempts.Transition(ctx, ev.ExternalCallID,
			[]State{StateAnsweredHuman}, StateAbandoned,
			TransitionUpdate{DurationSecs: ev.DurationSecs})
		if err != nil {
			return err
		}
		if moved {
			o.metrics.ObserveOutcome(string(StateAbandoned))
			o.setLiveStatus(ctx, ev.ExternalCallID, string(StateAbandoned))
		}
		return nil

	default:
		o.logger.Warn("unrecognized telephony event", "event_type", ev.EventType, "external_call_id", ev.ExternalCallID)
		return nil
	}
}

func (o *Orchestrator) terminal(ctx context.Context, ev StatusEvent, to State, from []State) error {
	moved, err := o.attempts.Transition(ctx, ev.ExternalCallID, from, to,
		TransitionUpdate{DurationSecs: ev.DurationSecs})
	if err != nil {
		return err
	}
	if moved {
		o.metrics.ObserveOutcome(string(to))
		o.setLiveStatus(ctx, ev.ExternalCallID, string(to))
	}
	return nil
}

// bridgeInterview hands the live call to the interview agent. A bridge
// failure strands a human on a silent line, so the call is hung up and the
// attempt ends as a provider failure rather than staying answered forever.
func (o *Orchestrator) bridgeInterview(ctx context.Context, externalCallID string) error {
	attempt, err := o.attempts.GetByExternalID(ctx, externalCallID)
	if err != nil {
		return err
	}
	conversationID, err := o.bridge.Start(ctx, BridgeRequest{
		ExternalCallID: externalCallID,
		AttemptID:      attempt.ID.String(),
		AppointmentID:  attempt.AppointmentID,
		PatientID:      attempt.PatientID,
		AttemptNumber:  attempt.AttemptNumber,
	})
	if err != nil {
		o.logger.Error("interview bridge failed", "error", err, "external_call_id", externalCallID)
		if herr := o.dialer.Hangup(ctx, externalCallID); herr != nil {
			o.logger.Error("hangup after bridge failure", "error", herr, "external_call_id", externalCallID)
		}
		return o.terminal(ctx, StatusEvent{ExternalCallID: externalCallID}, StateProviderFailure, []State{StateAnsweredHuman})
	}
	o.logger.Info("interview bridged", "external_call_id", externalCallID, "conversation_id", conversationID)
	return nil
}

// handleMachineAnswer applies the voicemail policy: hang up silently on the
// first attempt so the patient gets a clean retry, leave a voicemail on
// attempts two and three.
func (o *Orchestrator) handleMachineAnswer(ctx context.Context, ev StatusEvent) error {
	moved, err := o.attempts.Transition(ctx, ev.ExternalCallID,
		[]State{StateDialing}, StateAnsweredMachine,
		TransitionUpdate{AnsweredBy: "machine"})
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	attempt, err := o.attempts.GetByExternalID(ctx, ev.ExternalCallID)
	if err != nil {
		return err
	}

	if attempt.AttemptNumber == 1 {
		if err := o.dialer.Hangup(ctx, ev.ExternalCallID); err != nil {
			o.logger.Error("hangup on machine answer", "error", err, "external_call_id", ev.ExternalCallID)
		}
		return o.terminal(ctx, ev, StateAbandoned, []State{StateAnsweredMachine})
	}

	if err := o.dialer.LeaveVoicemail(ctx, ev.ExternalCallID, o.voicemail); err != nil {
		o.logger.Error("leave voicemail", "error", err, "external_call_id", ev.ExternalCallID)
		return o.terminal(ctx, ev, StateAbandoned, []State{StateAnsweredMachine})
	}
	return o.terminal(ctx, ev, StateVoicemailLeft, []State{StateAnsweredMachine})
}

// HandleConversationCompleted moves an answered call to completed and hands
// the transcript to the extraction pipeline. Transcript may be nil, in which
// case the live store copy is used.
func (o *Orchestrator) HandleConversationCompleted(ctx context.Context, externalCallID string, transcript []TranscriptEntry, durationSecs int) error {
	moved, err := o.attempts.Transition(ctx, externalCallID,
		[]State{StateAnsweredHuman}, StateCompleted,
		TransitionUpdate{DurationSecs: durationSecs})
	if err != nil {
		return err
	}
	if !moved {
		// Re-delivery or an out-of-order event; nothing left to do.
		return nil
	}
	o.metrics.ObserveOutcome(string(StateCompleted))

	attempt, err := o.attempts.GetByExternalID(ctx, externalCallID)
	if err != nil {
		return err
	}
	if len(transcript) == 0 {
		transcript, err = o.live.Transcript(ctx, externalCallID)
		if err != nil {
			o.logger.Error("load live transcript", "error", err, "external_call_id", externalCallID)
		}
	}
	if err := o.sink.Submit(ctx, ExtractionRequest{
		AttemptID:      attempt.ID.String(),
		AppointmentID:  attempt.AppointmentID,
		PatientID:      attempt.PatientID,
		ExternalCallID: externalCallID,
		Transcript:     transcript,
		CompletedAt:    time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("calls: submit extraction: %w", err)
	}

	if err := o.live.Delete(ctx, externalCallID); err != nil {
		o.logger.Error("delete live call state", "error", err, "external_call_id", externalCallID)
	}
	o.logger.Info("conversation completed", "external_call_id", externalCallID, "appointment_id", attempt.AppointmentID)
	return nil
}

// HandleEmergency short-circuits the normal pipeline: the attempt is flagged
// urgent and on-call staff are alerted immediately, before extraction runs.
func (o *Orchestrator) HandleEmergency(ctx context.Context, externalCallID, reason string) error {
	attempt, err := o.attempts.GetByExternalID(ctx, externalCallID)
	if err != nil {
		return err
	}
	if err := o.attempts.MarkUrgent(ctx, externalCallID); err != nil {
		return err
	}
	if err := o.live.MarkUrgent(ctx, externalCallID); err != nil {
		o.logger.Error("mark live call urgent", "error", err, "external_call_id", externalCallID)
	}

	alert := EmergencyAlert{
		AttemptID:      attempt.ID.String(),
		AppointmentID:  attempt.AppointmentID,
		PatientID:      attempt.PatientID,
		ExternalCallID: externalCallID,
		Reason:         reason,
		RaisedAt:       time.Now().UTC(),
	}
	if err := o.alerter.NotifyEmergency(ctx, alert); err != nil {
		return fmt.Errorf("calls: notify emergency: %w", err)
	}
	o.metrics.ObserveUrgent()
	o.logger.Warn("emergency escalation raised",
		"external_call_id", externalCallID,
		"appointment_id", attempt.AppointmentID,
		"reason", reason)
	return nil
}

func (o *Orchestrator) setLiveStatus(ctx context.Context, externalCallID, status string) {
	if err := o.live.SetStatus(ctx, externalCallID, status); err != nil {
		o.logger.Debug("update live call status", "error", err, "external_call_id", externalCallID)
	}
}

package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/tshla/previsit-platform/internal/calls"
	"github.com/tshla/previsit-platform/internal/retry"
	"github.com/tshla/previsit-platform/pkg/logging"
)

// DefaultPolicy is the webhook delivery schedule before falling back to email.
func DefaultPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    5,
		BaseDelay:      30 * time.Second,
		MaxDelay:       10 * time.Minute,
		JitterFraction: 0.5,
	}
}

// Service accepts urgent escalations, makes them durable and attempts
// immediate delivery. A failed immediate send leaves the alert pending for
// the deliverer, so detection never blocks on a flaky on-call channel.
type Service struct {
	outbox *OutboxStore
	sender Sender
	policy retry.Policy
	logger *logging.Logger
}

// NewService creates an alerting service.
func NewService(outbox *OutboxStore, sender Sender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		outbox: outbox,
		sender: sender,
		policy: DefaultPolicy(),
		logger: logger.Component("alerting"),
	}
}

// WithPolicy overrides the delivery retry schedule.
func (s *Service) WithPolicy(p retry.Policy) *Service {
	if p.MaxAttempts > 0 {
		s.policy = p
	}
	return s
}

// NotifyEmergency persists the alert and tries to deliver it right away.
// The write must succeed; the send may fail and be retried later.
func (s *Service) NotifyEmergency(ctx context.Context, evt calls.EmergencyAlert) error {
	alert := &Alert{
		AttemptID:      evt.AttemptID,
		AppointmentID:  evt.AppointmentID,
		PatientID:      evt.PatientID,
		ExternalCallID: evt.ExternalCallID,
		Reason:         evt.Reason,
		RaisedAt:       evt.RaisedAt,
	}
	if err := s.outbox.Enqueue(ctx, alert); err != nil {
		return fmt.Errorf("alerting: persist alert: %w", err)
	}

	if s.sender == nil {
		s.logger.Warn("no alert sender configured, alert left pending", "alert_id", alert.ID)
		return nil
	}

	if err := s.sender.SendAlert(ctx, alert); err != nil {
		next := time.Now().UTC().Add(s.policy.Delay(2))
		if serr := s.outbox.ScheduleRetry(ctx, alert.ID, next, err.Error()); serr != nil {
			s.logger.Error("failed to schedule alert retry", "error", serr, "alert_id", alert.ID)
		}
		s.logger.Warn("immediate alert delivery failed, queued for retry",
			"error", err, "alert_id", alert.ID, "appointment_id", alert.AppointmentID)
		return nil
	}

	if err := s.outbox.MarkDelivered(ctx, alert.ID); err != nil {
		s.logger.Error("failed to mark alert delivered", "error", err, "alert_id", alert.ID)
	}
	return nil
}

// Ensure interface compliance
var _ calls.Alerter = (*Service)(nil)

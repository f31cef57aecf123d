package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tshla/previsit-platform/internal/notify"
	"github.com/tshla/previsit-platform/internal/retry"
	"github.com/tshla/previsit-platform/pkg/logging"
)

type delivererStore interface {
	ListDue(ctx context.Context, limit int) ([]*Alert, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetry time.Time, lastErr string) error
	MarkEscalated(ctx context.Context, id uuid.UUID, lastErr string) error
}

// Deliverer drains the alert outbox: pending alerts are re-sent on the retry
// schedule, and alerts that exhaust the schedule are escalated to the
// fallback email channel. An alert is never dropped.
type Deliverer struct {
	store         delivererStore
	sender        Sender
	fallbackEmail notify.EmailSender
	recipients    []string
	policy        retry.Policy
	interval      time.Duration
	batchSize     int
	logger        *logging.Logger
}

// NewDeliverer creates an outbox deliverer.
func NewDeliverer(store delivererStore, sender Sender, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:     store,
		sender:    sender,
		policy:    DefaultPolicy(),
		interval:  30 * time.Second,
		batchSize: 25,
		logger:    logger.Component("alert-deliverer"),
	}
}

// WithPolicy overrides the retry schedule.
func (d *Deliverer) WithPolicy(p retry.Policy) *Deliverer {
	if p.MaxAttempts > 0 {
		d.policy = p
	}
	return d
}

// WithInterval overrides the drain interval.
func (d *Deliverer) WithInterval(iv time.Duration) *Deliverer {
	if iv > 0 {
		d.interval = iv
	}
	return d
}

// WithBatchSize overrides the per-drain batch limit.
func (d *Deliverer) WithBatchSize(n int) *Deliverer {
	if n > 0 {
		d.batchSize = n
	}
	return d
}

// WithFallbackEmail sets the escalation channel used once webhook delivery
// is exhausted.
func (d *Deliverer) WithFallbackEmail(email notify.EmailSender, recipients []string) *Deliverer {
	d.fallbackEmail = email
	d.recipients = recipients
	return d
}

// Run drains the outbox on a ticker until ctx is cancelled.
func (d *Deliverer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	d.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Deliverer) drain(ctx context.Context) {
	alerts, err := d.store.ListDue(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("alert outbox fetch failed", "error", err)
		return
	}
	for _, a := range alerts {
		if a.SendAttempts >= d.policy.MaxAttempts {
			d.escalate(ctx, a)
			continue
		}
		if d.sender == nil {
			d.escalate(ctx, a)
			continue
		}
		if err := d.sender.SendAlert(ctx, a); err != nil {
			d.onFailure(ctx, a, err)
			continue
		}
		if err := d.store.MarkDelivered(ctx, a.ID); err != nil {
			d.logger.Error("failed to mark alert delivered", "error", err, "alert_id", a.ID)
		}
	}
}

func (d *Deliverer) onFailure(ctx context.Context, a *Alert, sendErr error) {
	newAttempts := a.SendAttempts + 1
	if newAttempts >= d.policy.MaxAttempts {
		a.SendAttempts = newAttempts
		d.escalate(ctx, a)
		return
	}
	next := time.Now().UTC().Add(d.policy.Delay(newAttempts + 1))
	if err := d.store.ScheduleRetry(ctx, a.ID, next, sendErr.Error()); err != nil {
		d.logger.Error("failed to schedule alert retry", "error", err, "alert_id", a.ID)
		return
	}
	d.logger.Warn("alert delivery failed, retry scheduled",
		"error", sendErr, "alert_id", a.ID, "attempts", newAttempts, "next_retry_at", next)
}

// escalate sends the alert over the fallback email channel. If that also
// fails the alert stays pending with a pushed-out retry time.
func (d *Deliverer) escalate(ctx context.Context, a *Alert) {
	if d.fallbackEmail == nil || len(d.recipients) == 0 {
		d.logger.Error("alert delivery exhausted and no fallback channel configured",
			"alert_id", a.ID, "appointment_id", a.AppointmentID)
		d.postpone(ctx, a, "delivery exhausted, no fallback channel")
		return
	}

	msg := notify.EmailMessage{
		Subject: fmt.Sprintf("URGENT: patient escalation for appointment %s", a.AppointmentID),
		Body: fmt.Sprintf(`An urgent pre-visit call escalation could not be delivered to the on-call webhook.

Appointment: %s
Patient: %s
Reason: %s
Raised: %s
Call attempt: %s

Please follow up with the patient immediately.`,
			a.AppointmentID, a.PatientID, a.Reason, a.RaisedAt.Format(time.RFC3339), a.AttemptID),
	}

	delivered := 0
	for _, to := range d.recipients {
		msg.To = to
		if err := d.fallbackEmail.Send(ctx, msg); err != nil {
			d.logger.Error("fallback alert email failed", "error", err, "to", to, "alert_id", a.ID)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		d.postpone(ctx, a, "fallback email failed for all recipients")
		return
	}
	if err := d.store.MarkEscalated(ctx, a.ID, a.LastError); err != nil {
		d.logger.Error("failed to mark alert escalated", "error", err, "alert_id", a.ID)
	}
	d.logger.Warn("alert escalated to fallback email",
		"alert_id", a.ID, "appointment_id", a.AppointmentID, "recipients", delivered)
}

// postpone pushes the retry time out so the alert is retried later rather
// than dropped.
func (d *Deliverer) postpone(ctx context.Context, a *Alert, reason string) {
	next := time.Now().UTC().Add(d.policy.Delay(d.policy.MaxAttempts + 1))
	if err := d.store.ScheduleRetry(ctx, a.ID, next, reason); err != nil {
		d.logger.Error("failed to defer alert", "error", err, "alert_id", a.ID)
	}
}

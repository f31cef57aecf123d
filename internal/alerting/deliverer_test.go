package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tshla/previsit-platform/internal/notify"
	"github.com/tshla/previsit-platform/internal/retry"
)

type fakeOutbox struct {
	due       []*Alert
	delivered []uuid.UUID
	retried   map[uuid.UUID]string
	escalated []uuid.UUID
}

func newFakeOutbox(due ...*Alert) *fakeOutbox {
	return &fakeOutbox{due: due, retried: map[uuid.UUID]string{}}
}

func (f *fakeOutbox) ListDue(ctx context.Context, limit int) ([]*Alert, error) {
	return f.due, nil
}

func (f *fakeOutbox) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	f.delivered = append(f.delivered, id)
	return nil
}

func (f *fakeOutbox) ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetry time.Time, lastErr string) error {
	f.retried[id] = lastErr
	return nil
}

func (f *fakeOutbox) MarkEscalated(ctx context.Context, id uuid.UUID, lastErr string) error {
	f.escalated = append(f.escalated, id)
	return nil
}

type fakeSender struct {
	calls int
	err   error
}

func (f *fakeSender) SendAlert(ctx context.Context, a *Alert) error {
	f.calls++
	return f.err
}

type fakeEmail struct {
	sent []notify.EmailMessage
	err  error
}

func (f *fakeEmail) Send(ctx context.Context, msg notify.EmailMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func pendingAlert(attempts int) *Alert {
	return &Alert{
		ID:            uuid.New(),
		AttemptID:     "att-1",
		AppointmentID: "appt-1",
		PatientID:     "pat-1",
		Reason:        "chest pain",
		RaisedAt:      time.Now().UTC(),
		Status:        StatusPending,
		SendAttempts:  attempts,
	}
}

func TestDelivererDeliversPending(t *testing.T) {
	alert := pendingAlert(1)
	outbox := newFakeOutbox(alert)
	sender := &fakeSender{}
	d := NewDeliverer(outbox, sender, nil).WithPolicy(testPolicy())

	d.drain(context.Background())

	require.Equal(t, 1, sender.calls)
	require.Equal(t, []uuid.UUID{alert.ID}, outbox.delivered)
	require.Empty(t, outbox.retried)
}

func TestDelivererSchedulesRetryOnFailure(t *testing.T) {
	alert := pendingAlert(0)
	outbox := newFakeOutbox(alert)
	sender := &fakeSender{err: errors.New("webhook 503")}
	d := NewDeliverer(outbox, sender, nil).WithPolicy(testPolicy())

	d.drain(context.Background())

	require.Empty(t, outbox.delivered)
	require.Contains(t, outbox.retried, alert.ID)
	require.Equal(t, "webhook 503", outbox.retried[alert.ID])
}

func TestDelivererEscalatesAfterExhaustion(t *testing.T) {
	alert := pendingAlert(3)
	outbox := newFakeOutbox(alert)
	sender := &fakeSender{err: errors.New("webhook down")}
	email := &fakeEmail{}
	d := NewDeliverer(outbox, sender, nil).
		WithPolicy(testPolicy()).
		WithFallbackEmail(email, []string{"oncall@example.com"})

	d.drain(context.Background())

	require.Equal(t, 0, sender.calls, "exhausted alert should not hit the webhook again")
	require.Len(t, email.sent, 1)
	require.Equal(t, "oncall@example.com", email.sent[0].To)
	require.Contains(t, email.sent[0].Body, "chest pain")
	require.Equal(t, []uuid.UUID{alert.ID}, outbox.escalated)
}

func TestDelivererKeepsAlertWhenFallbackFails(t *testing.T) {
	alert := pendingAlert(3)
	outbox := newFakeOutbox(alert)
	email := &fakeEmail{err: errors.New("ses down")}
	d := NewDeliverer(outbox, &fakeSender{err: errors.New("webhook down")}, nil).
		WithPolicy(testPolicy()).
		WithFallbackEmail(email, []string{"oncall@example.com"})

	d.drain(context.Background())

	require.Empty(t, outbox.escalated)
	require.Empty(t, outbox.delivered)
	require.Contains(t, outbox.retried, alert.ID, "alert must stay pending, never dropped")
}

func TestDelivererFinalFailureEscalatesImmediately(t *testing.T) {
	// Attempt 2 of 3 fails in-drain: that is the last webhook try, so the
	// alert escalates without waiting for another cycle.
	alert := pendingAlert(2)
	outbox := newFakeOutbox(alert)
	sender := &fakeSender{err: errors.New("webhook down")}
	email := &fakeEmail{}
	d := NewDeliverer(outbox, sender, nil).
		WithPolicy(testPolicy()).
		WithFallbackEmail(email, []string{"oncall@example.com"})

	d.drain(context.Background())

	require.Equal(t, 1, sender.calls)
	require.Len(t, email.sent, 1)
	require.Equal(t, []uuid.UUID{alert.ID}, outbox.escalated)
}

package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlertNotFound is returned on lookups that match nothing.
var ErrAlertNotFound = errors.New("alerting: alert not found")

// Outbox row status values.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusEscalated = "escalated"
)

// Alert is one urgent escalation awaiting delivery. Rows are written before
// the first delivery attempt so an alert survives a crash between detection
// and dispatch.
type Alert struct {
	ID             uuid.UUID  `json:"id"`
	AttemptID      string     `json:"attempt_id"`
	AppointmentID  string     `json:"appointment_id"`
	PatientID      string     `json:"patient_id"`
	ExternalCallID string     `json:"external_call_id,omitempty"`
	Reason         string     `json:"reason"`
	RaisedAt       time.Time  `json:"raised_at"`
	Status         string     `json:"status"`
	SendAttempts   int        `json:"send_attempts"`
	NextRetryAt    time.Time  `json:"next_retry_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OutboxStore persists urgent alerts in Postgres.
type OutboxStore struct {
	db DB
}

// NewOutboxStore creates an outbox store backed by pgxpool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("alerting: pgx pool required")
	}
	return &OutboxStore{db: pool}
}

// NewOutboxStoreWithDB creates an outbox store with a custom DB, used in tests.
func NewOutboxStoreWithDB(db DB) *OutboxStore {
	return &OutboxStore{db: db}
}

const alertColumns = `id, attempt_id, appointment_id, patient_id, external_call_id, reason, raised_at, status, send_attempts, next_retry_at, delivered_at, last_error`

// Enqueue writes a pending alert. The row is durable before any delivery is
// attempted.
func (s *OutboxStore) Enqueue(ctx context.Context, a *Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.RaisedAt.IsZero() {
		a.RaisedAt = time.Now().UTC()
	}
	if a.NextRetryAt.IsZero() {
		a.NextRetryAt = a.RaisedAt
	}
	a.Status = StatusPending
	_, err := s.db.Exec(ctx, `
		INSERT INTO alert_outbox (id, attempt_id, appointment_id, patient_id, external_call_id, reason, raised_at, status, send_attempts, next_retry_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, 0, $9)`,
		a.ID, a.AttemptID, a.AppointmentID, a.PatientID, a.ExternalCallID, a.Reason, a.RaisedAt, a.Status, a.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("alerting: enqueue alert: %w", err)
	}
	return nil
}

// ListDue returns pending alerts whose retry time has passed, oldest first.
func (s *OutboxStore) ListDue(ctx context.Context, limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+alertColumns+`
		FROM alert_outbox
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY raised_at ASC
		LIMIT $3`,
		StatusPending, time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("alerting: list due alerts: %w", err)
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("alerting: iterate alerts: %w", err)
	}
	return out, nil
}

// MarkDelivered finalizes a successfully delivered alert.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE alert_outbox
		SET status = $2, delivered_at = $3, last_error = ''
		WHERE id = $1`,
		id, StatusDelivered, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("alerting: mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// ScheduleRetry bumps the attempt counter and sets the next retry time after
// a failed delivery.
func (s *OutboxStore) ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetry time.Time, lastErr string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE alert_outbox
		SET send_attempts = send_attempts + 1, next_retry_at = $2, last_error = $3
		WHERE id = $1`,
		id, nextRetry, lastErr,
	)
	if err != nil {
		return fmt.Errorf("alerting: schedule retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// MarkEscalated records that webhook delivery was exhausted and the alert
// went out over the fallback channel instead.
func (s *OutboxStore) MarkEscalated(ctx context.Context, id uuid.UUID, lastErr string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE alert_outbox
		SET status = $2, last_error = $3
		WHERE id = $1`,
		id, StatusEscalated, lastErr,
	)
	if err != nil {
		return fmt.Errorf("alerting: mark escalated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	var extID, lastErr *string
	if err := row.Scan(&a.ID, &a.AttemptID, &a.AppointmentID, &a.PatientID, &extID, &a.Reason,
		&a.RaisedAt, &a.Status, &a.SendAttempts, &a.NextRetryAt, &a.DeliveredAt, &lastErr); err != nil {
		return nil, fmt.Errorf("alerting: scan alert: %w", err)
	}
	if extID != nil {
		a.ExternalCallID = *extID
	}
	if lastErr != nil {
		a.LastError = *lastErr
	}
	return &a, nil
}

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Channel identifies how a reminder was delivered.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Delivery status values.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Record is one reminder delivery attempt. Records exist independently of
// call attempts so reminder history survives even when no call is ever made.
type Record struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	Channel       Channel   `json:"channel"`
	Recipient     string    `json:"recipient"`
	Status        string    `json:"status"`
	Detail        string    `json:"detail,omitempty"`
	SentAt        time.Time `json:"sent_at"`
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RecordStore persists notification records in Postgres.
type RecordStore struct {
	db DB
}

// NewRecordStore creates a record store backed by pgxpool.
func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	if pool == nil {
		panic("notify: pgx pool required")
	}
	return &RecordStore{db: pool}
}

// NewRecordStoreWithDB creates a record store with a custom DB, used in tests.
func NewRecordStoreWithDB(db DB) *RecordStore {
	return &RecordStore{db: db}
}

// Create inserts a delivery record.
func (s *RecordStore) Create(ctx context.Context, r *Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.SentAt.IsZero() {
		r.SentAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO notification_records (id, appointment_id, patient_id, channel, recipient, status, detail, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.AppointmentID, r.PatientID, string(r.Channel), r.Recipient, r.Status, r.Detail, r.SentAt,
	)
	if err != nil {
		return fmt.Errorf("notify: insert record: %w", err)
	}
	return nil
}

// ListForAppointment returns delivery history for one appointment, newest first.
func (s *RecordStore) ListForAppointment(ctx context.Context, appointmentID string) ([]*Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, appointment_id, patient_id, channel, recipient, status, detail, sent_at
		FROM notification_records
		WHERE appointment_id = $1
		ORDER BY sent_at DESC`,
		appointmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("notify: list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var r Record
		var channel string
		if err := rows.Scan(&r.ID, &r.AppointmentID, &r.PatientID, &channel, &r.Recipient, &r.Status, &r.Detail, &r.SentAt); err != nil {
			return nil, fmt.Errorf("notify: scan record: %w", err)
		}
		r.Channel = Channel(channel)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate records: %w", err)
	}
	return out, nil
}

// HasReminder reports whether any successful reminder was already recorded
// for the appointment, so repeated cycles on the same day do not double-send.
func (s *RecordStore) HasReminder(ctx context.Context, appointmentID string) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx, `
		SELECT 1 FROM notification_records
		WHERE appointment_id = $1 AND status = $2
		LIMIT 1`,
		appointmentID, StatusSent,
	).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("notify: check reminder: %w", err)
	}
	return true, nil
}

package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an appointment lookup matches nothing.
var ErrNotFound = errors.New("appointments: appointment not found")

// Reader is the read-only contract the scheduler and orchestrator depend on.
type Reader interface {
	GetByID(ctx context.Context, id string) (*Appointment, error)
	ListOnDate(ctx context.Context, date time.Time) ([]Appointment, error)
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads appointments from the shared database. The table is written by
// the upstream scheduling system.
type Store struct {
	db DB
}

// NewStore creates an appointment reader backed by pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Store{db: pool}
}

// NewStoreWithDB wires an arbitrary DB, used by tests.
func NewStoreWithDB(db DB) *Store {
	return &Store{db: db}
}

const apptColumns = `id, patient_id, provider_id, provider_name, starts_at, status`

// GetByID fetches one appointment.
func (s *Store) GetByID(ctx context.Context, id string) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+apptColumns+` FROM appointments WHERE id = $1`, id)
	var a Appointment
	if err := row.Scan(&a.ID, &a.PatientID, &a.ProviderID, &a.ProviderName, &a.StartsAt, &a.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: select: %w", err)
	}
	return &a, nil
}

// ListOnDate returns scheduled appointments whose start falls on the given
// UTC calendar date.
func (s *Store) ListOnDate(ctx context.Context, date time.Time) ([]Appointment, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)
	rows, err := s.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status = 'scheduled' AND starts_at >= $1 AND starts_at < $2
		ORDER BY starts_at`, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("appointments: list on date: %w", err)
	}
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.ProviderID, &a.ProviderName, &a.StartsAt, &a.Status); err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

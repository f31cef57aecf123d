package calls

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

var (
	// ErrAttemptExists is returned when the (appointment, attempt_number)
	// slot is already taken; the scheduler treats it as already dispatched.
	ErrAttemptExists = errors.New("calls: attempt already recorded")

	// ErrAttemptNotFound is returned on lookups that match nothing.
	ErrAttemptNotFound = errors.New("calls: attempt not found")
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists call attempts. Transitions are conditional updates keyed by
// the external call identifier so at-least-once webhook delivery collapses
// into exactly one state change.
type Store struct {
	db DB
}

// NewStore creates a call attempt store backed by pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("calls: pgx pool required")
	}
	return &Store{db: pool}
}

// NewStoreWithDB wires an arbitrary DB, used by tests.
func NewStoreWithDB(db DB) *Store {
	return &Store{db: db}
}

const attemptColumns = `id, appointment_id, patient_id, attempt_number, external_call_id, state, answered_by, urgent, initiated_at, ended_at, duration_seconds`

func scanAttempt(row pgx.Row) (*Attempt, error) {
	var a Attempt
	var extID, answeredBy *string
	if err := row.Scan(&a.ID, &a.AppointmentID, &a.PatientID, &a.AttemptNumber,
		&extID, &a.State, &answeredBy, &a.Urgent, &a.InitiatedAt, &a.EndedAt, &a.DurationSecs); err != nil {
		return nil, err
	}
	if extID != nil {
		a.ExternalCallID = *extID
	}
	if answeredBy != nil {
		a.AnsweredBy = *answeredBy
	}
	return &a, nil
}

// Create inserts a new attempt in the scheduled state. The unique
// (appointment_id, attempt_number) constraint is the final double-dispatch
// guard; violations surface as ErrAttemptExists.
func (s *Store) Create(ctx context.Context, a *Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.State == "" {
		a.State = StateScheduled
	}
	if a.InitiatedAt.IsZero() {
		a.InitiatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO call_attempts (id, appointment_id, patient_id, attempt_number, state, urgent, initiated_at, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)`,
		a.ID, a.AppointmentID, a.PatientID, a.AttemptNumber, string(a.State), a.Urgent, a.InitiatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAttemptExists
		}
		return fmt.Errorf("calls: insert attempt: %w", err)
	}
	return nil
}

// MarkDialing attaches the provider call id and moves scheduled -> dialing.
func (s *Store) MarkDialing(ctx context.Context, id uuid.UUID, externalCallID string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE call_attempts
		SET external_call_id = $2, state = $3
		WHERE id = $1 AND state = $4`,
		id, externalCallID, string(StateDialing), string(StateScheduled))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAttemptExists
		}
		return fmt.Errorf("calls: mark dialing: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// MarkFailed records a dispatch that never produced a provider call.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		UPDATE call_attempts
		SET state = $2, ended_at = $3
		WHERE id = $1 AND state IN ($4, $5)`,
		id, string(StateProviderFailure), now, string(StateScheduled), string(StateDialing))
	if err != nil {
		return fmt.Errorf("calls: mark failed: %w", err)
	}
	return nil
}

// Transition conditionally advances the attempt keyed by external call id.
// Returns false when the current state is not in from, which covers
// re-delivered events for a transition that already happened.
func (s *Store) Transition(ctx context.Context, externalCallID string, from []State, to State, update TransitionUpdate) (bool, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}
	var endedAt any
	if to.Terminal() {
		endedAt = time.Now().UTC()
	}
	ct, err := s.db.Exec(ctx, `
		UPDATE call_attempts
		SET state = $2,
		    answered_by = COALESCE(NULLIF($3, ''), answered_by),
		    duration_seconds = GREATEST(duration_seconds, $4),
		    urgent = urgent OR $5,
		    ended_at = COALESCE($6, ended_at)
		WHERE external_call_id = $1 AND state = ANY($7)`,
		externalCallID, string(to), update.AnsweredBy, update.DurationSecs, update.Urgent, endedAt, states)
	if err != nil {
		return false, fmt.Errorf("calls: transition to %s: %w", to, err)
	}
	return ct.RowsAffected() == 1, nil
}

// TransitionUpdate carries optional fields recorded with a transition.
type TransitionUpdate struct {
	AnsweredBy   string
	DurationSecs int
	Urgent       bool
}

// MarkUrgent sets the urgent flag on the attempt for an in-progress call.
func (s *Store) MarkUrgent(ctx context.Context, externalCallID string) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE call_attempts SET urgent = TRUE WHERE external_call_id = $1`, externalCallID)
	if err != nil {
		return fmt.Errorf("calls: mark urgent: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// GetByExternalID fetches the attempt correlated to a provider call id.
func (s *Store) GetByExternalID(ctx context.Context, externalCallID string) (*Attempt, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM call_attempts WHERE external_call_id = $1`, externalCallID)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("calls: select by external id: %w", err)
	}
	return a, nil
}

// CountForAppointment returns how many attempts exist for the appointment.
func (s *Store) CountForAppointment(ctx context.Context, appointmentID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM call_attempts WHERE appointment_id = $1`, appointmentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("calls: count attempts: %w", err)
	}
	return n, nil
}

// HasCompleted reports whether any attempt reached a completed human
// conversation for the appointment.
func (s *Store) HasCompleted(ctx context.Context, appointmentID string) (bool, error) {
	var exists int
	err := s.db.QueryRow(ctx, `
		SELECT 1 FROM call_attempts
		WHERE appointment_id = $1 AND state = $2
		LIMIT 1`, appointmentID, string(StateCompleted)).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("calls: check completed: %w", err)
	}
	return true, nil
}

// HasInFlight reports whether an attempt for the appointment is still in a
// non-terminal state. The scheduler serializes dispatch on this.
func (s *Store) HasInFlight(ctx context.Context, appointmentID string) (bool, error) {
	var exists int
	err := s.db.QueryRow(ctx, `
		SELECT 1 FROM call_attempts
		WHERE appointment_id = $1 AND state IN ($2, $3, $4, $5)
		LIMIT 1`, appointmentID,
		string(StateScheduled), string(StateDialing), string(StateAnsweredHuman), string(StateAnsweredMachine)).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("calls: check in-flight: %w", err)
	}
	return true, nil
}

// HasAttempt reports whether the (appointment, attempt_number) slot exists.
func (s *Store) HasAttempt(ctx context.Context, appointmentID string, attemptNumber int) (bool, error) {
	var exists int
	err := s.db.QueryRow(ctx, `
		SELECT 1 FROM call_attempts
		WHERE appointment_id = $1 AND attempt_number = $2
		LIMIT 1`, appointmentID, attemptNumber).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("calls: check attempt slot: %w", err)
	}
	return true, nil
}

package responses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAlreadyExists is returned when a response for the appointment was
	// persisted earlier; responses are never replaced.
	ErrAlreadyExists = errors.New("responses: response already recorded for appointment")

	ErrNotFound = errors.New("responses: not found")
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists pre-visit responses. Only Create and Annotate mutate; the
// structured extraction is write-once.
type Store struct {
	db DB
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("responses: pgx pool required")
	}
	return &Store{db: pool}
}

func NewStoreWithDB(db DB) *Store {
	return &Store{db: db}
}

// Create persists a new response. The unique appointment_id constraint keeps
// the one-per-appointment invariant under concurrent completion webhooks.
func (s *Store) Create(ctx context.Context, r *PreVisitResponse) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	extraction, err := json.Marshal(r.Extraction)
	if err != nil {
		return fmt.Errorf("responses: marshal extraction: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO previsit_responses (id, appointment_id, patient_id, attempt_id, raw_transcript, transcript_ref, extraction, urgency_level, requires_urgent_callback, needs_manual_review, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, $8, $9, $10, $11)`,
		r.ID, r.AppointmentID, r.PatientID, r.AttemptID, r.RawTranscript, r.TranscriptRef,
		extraction, string(r.UrgencyLevel), r.RequiresUrgentCallback, r.NeedsManualReview, r.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("responses: insert: %w", err)
	}
	return nil
}

const responseColumns = `id, appointment_id, patient_id, attempt_id, raw_transcript, transcript_ref, extraction, urgency_level, requires_urgent_callback, needs_manual_review, created_at, reviewed_by, reviewed_at, review_note`

func scanResponse(row pgx.Row) (*PreVisitResponse, error) {
	var r PreVisitResponse
	var transcriptRef, reviewedBy, reviewNote *string
	var extraction []byte
	if err := row.Scan(&r.ID, &r.AppointmentID, &r.PatientID, &r.AttemptID, &r.RawTranscript,
		&transcriptRef, &extraction, &r.UrgencyLevel, &r.RequiresUrgentCallback,
		&r.NeedsManualReview, &r.CreatedAt, &reviewedBy, &r.ReviewedAt, &reviewNote); err != nil {
		return nil, err
	}
	if transcriptRef != nil {
		r.TranscriptRef = *transcriptRef
	}
	if reviewedBy != nil {
		r.ReviewedBy = *reviewedBy
	}
	if reviewNote != nil {
		r.ReviewNote = *reviewNote
	}
	if len(extraction) > 0 {
		if err := json.Unmarshal(extraction, &r.Extraction); err != nil {
			return nil, fmt.Errorf("responses: unmarshal extraction: %w", err)
		}
	}
	return &r, nil
}

// GetByAppointment fetches the response recorded for an appointment.
func (s *Store) GetByAppointment(ctx context.Context, appointmentID string) (*PreVisitResponse, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+responseColumns+` FROM previsit_responses WHERE appointment_id = $1`, appointmentID)
	r, err := scanResponse(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("responses: select by appointment: %w", err)
	}
	return r, nil
}

// ListUrgent returns unreviewed responses flagged for urgent callback, newest
// first, for the dashboard callback queue.
func (s *Store) ListUrgent(ctx context.Context, limit int) ([]PreVisitResponse, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+responseColumns+`
		FROM previsit_responses
		WHERE requires_urgent_callback AND reviewed_at IS NULL
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("responses: select urgent: %w", err)
	}
	defer rows.Close()
	var out []PreVisitResponse
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("responses: scan: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Annotate records the provider review. This is the only permitted mutation
// after creation; it never touches the extraction.
func (s *Store) Annotate(ctx context.Context, appointmentID, reviewedBy, note string) error {
	if reviewedBy == "" {
		return errors.New("responses: reviewer required")
	}
	ct, err := s.db.Exec(ctx, `
		UPDATE previsit_responses
		SET reviewed_by = $2, reviewed_at = $3, review_note = NULLIF($4,'')
		WHERE appointment_id = $1`,
		appointmentID, reviewedBy, time.Now().UTC(), note)
	if err != nil {
		return fmt.Errorf("responses: annotate: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

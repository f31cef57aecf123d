package patients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores patients in the relational database.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("patients: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

// NewPostgresRepositoryWithDB wires an arbitrary DB, used by tests.
func NewPostgresRepositoryWithDB(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const patientColumns = `id, id_year, id_seq, phone, full_name, date_of_birth, email, provider_id, opt_out_calls, status, last_appointment_at, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var year, seq int
	var dob, email *string
	if err := row.Scan(&p.ID, &year, &seq, &p.Phone, &p.FullName, &dob, &email,
		&p.ProviderID, &p.OptOutCalls, &p.Status, &p.LastAppointmentAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	if dob != nil {
		p.DateOfBirth = *dob
	}
	if email != nil {
		p.Email = *email
	}
	return &p, nil
}

// GetByID fetches one patient by canonical identifier.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Patient, error) {
	row := r.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("patients: select by id: %w", err)
	}
	return p, nil
}

// FindByPhone returns the unique patient holding the normalized phone, or nil.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (*Patient, error) {
	if phone == "" {
		return nil, nil
	}
	row := r.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE phone = $1`, phone)
	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("patients: select by phone: %w", err)
	}
	return p, nil
}

// FindByNameDOB matches on normalized full name plus date of birth.
func (r *PostgresRepository) FindByNameDOB(ctx context.Context, normalizedName, dob string) (*Patient, error) {
	if normalizedName == "" || dob == "" {
		return nil, nil
	}
	row := r.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE normalized_name = $1 AND date_of_birth = $2
		LIMIT 1`, normalizedName, dob)
	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("patients: select by name+dob: %w", err)
	}
	return p, nil
}

// ListByProvider returns fuzzy-match candidates scoped to one provider.
func (r *PostgresRepository) ListByProvider(ctx context.Context, providerID string) ([]Patient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE provider_id = $1 AND status = 'active'`, providerID)
	if err != nil {
		return nil, fmt.Errorf("patients: select by provider: %w", err)
	}
	defer rows.Close()
	var out []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("patients: scan: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Create inserts the patient. Uniqueness violations (identifier sequence or
// phone, both raced by concurrent imports) surface as ErrIdentifierTaken so
// the resolver can retry its lookup tiers.
func (r *PostgresRepository) Create(ctx context.Context, p *Patient) error {
	year, seq, err := splitIdentifier(p.ID)
	if err != nil {
		return err
	}
	var phone any
	if p.Phone != "" {
		phone = p.Phone
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO patients (id, id_year, id_seq, phone, full_name, normalized_name, date_of_birth, email, provider_id, opt_out_calls, status, last_appointment_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), $9, $10, $11, $12, $13)`,
		p.ID, year, seq, phone, p.FullName, NormalizeName(p.FullName), p.DateOfBirth, p.Email,
		p.ProviderID, p.OptOutCalls, string(StatusActive), p.LastAppointmentAt, p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdentifierTaken
		}
		return fmt.Errorf("patients: insert: %w", err)
	}
	return nil
}

// Touch records the latest appointment date and backfills a missing phone.
func (r *PostgresRepository) Touch(ctx context.Context, id string, appointmentDate time.Time, backfillPhone string) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE patients
		SET last_appointment_at = GREATEST(last_appointment_at, $2),
		    phone = CASE WHEN phone IS NULL AND $3 <> '' THEN $3 ELSE phone END
		WHERE id = $1`, id, appointmentDate, backfillPhone)
	if err != nil {
		return fmt.Errorf("patients: touch: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// NextIdentifier reads the current maximum sequence for the year and returns
// the next P-<year>-<seq> identifier. The unique (id_year, id_seq) constraint
// is the final guard against concurrent allocation.
func (r *PostgresRepository) NextIdentifier(ctx context.Context, year int) (string, error) {
	var max int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(id_seq), 0) FROM patients WHERE id_year = $1`, year,
	).Scan(&max)
	if err != nil {
		return "", fmt.Errorf("patients: max sequence: %w", err)
	}
	return fmt.Sprintf("P-%d-%04d", year, max+1), nil
}

func splitIdentifier(id string) (year, seq int, err error) {
	if _, err := fmt.Sscanf(id, "P-%d-%d", &year, &seq); err != nil {
		return 0, 0, fmt.Errorf("patients: malformed identifier %q: %w", id, err)
	}
	return year, seq, nil
}

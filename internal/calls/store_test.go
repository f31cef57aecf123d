package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestCreateAttemptDuplicateSlot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithDB(mock)

	mock.ExpectExec("INSERT INTO call_attempts").
		WithArgs(pgxmock.AnyArg(), "APT-1", "P-2026-0001", 1, string(StateScheduled), false, pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = store.Create(context.Background(), &Attempt{
		AppointmentID: "APT-1",
		PatientID:     "P-2026-0001",
		AttemptNumber: 1,
	})
	require.ErrorIs(t, err, ErrAttemptExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionConditionalUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithDB(mock)

	mock.ExpectExec("UPDATE call_attempts").
		WithArgs("call_abc", string(StateAnsweredHuman), "human", 0, false, nil, []string{string(StateDialing)}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	moved, err := store.Transition(context.Background(), "call_abc",
		[]State{StateDialing}, StateAnsweredHuman, TransitionUpdate{AnsweredBy: "human"})
	require.NoError(t, err)
	require.True(t, moved)

	// Re-delivered event: state no longer matches, zero rows, no error.
	mock.ExpectExec("UPDATE call_attempts").
		WithArgs("call_abc", string(StateAnsweredHuman), "human", 0, false, nil, []string{string(StateDialing)}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	moved, err = store.Transition(context.Background(), "call_abc",
		[]State{StateDialing}, StateAnsweredHuman, TransitionUpdate{AnsweredBy: "human"})
	require.NoError(t, err)
	require.False(t, moved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionTerminalSetsEndedAt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithDB(mock)

	mock.ExpectExec("UPDATE call_attempts").
		WithArgs("call_abc", string(StateCompleted), "", 245, false, pgxmock.AnyArg(), []string{string(StateAnsweredHuman)}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	moved, err := store.Transition(context.Background(), "call_abc",
		[]State{StateAnsweredHuman}, StateCompleted, TransitionUpdate{DurationSecs: 245})
	require.NoError(t, err)
	require.True(t, moved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByExternalID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithDB(mock)
	id := uuid.New()
	extID := "call_abc"
	answeredBy := "human"
	initiated := time.Date(2026, 3, 10, 10, 15, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM call_attempts WHERE external_call_id").
		WithArgs("call_abc").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "appointment_id", "patient_id", "attempt_number", "external_call_id",
			"state", "answered_by", "urgent", "initiated_at", "ended_at", "duration_seconds",
		}).AddRow(id, "APT-1", "P-2026-0001", 2, &extID, string(StateAnsweredHuman), &answeredBy, false, initiated, nil, 0))

	a, err := store.GetByExternalID(context.Background(), "call_abc")
	require.NoError(t, err)
	require.Equal(t, id, a.ID)
	require.Equal(t, 2, a.AttemptNumber)
	require.Equal(t, "human", a.AnsweredBy)
	require.Equal(t, StateAnsweredHuman, a.State)

	mock.ExpectQuery("SELECT (.+) FROM call_attempts WHERE external_call_id").
		WithArgs("call_missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetByExternalID(context.Background(), "call_missing")
	require.ErrorIs(t, err, ErrAttemptNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasCompletedAndInFlight(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithDB(mock)

	mock.ExpectQuery("SELECT 1 FROM call_attempts").
		WithArgs("APT-1", string(StateCompleted)).
		WillReturnError(pgx.ErrNoRows)
	done, err := store.HasCompleted(context.Background(), "APT-1")
	require.NoError(t, err)
	require.False(t, done)

	mock.ExpectQuery("SELECT 1 FROM call_attempts").
		WithArgs("APT-1", string(StateScheduled), string(StateDialing), string(StateAnsweredHuman), string(StateAnsweredMachine)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	inflight, err := store.HasInFlight(context.Background(), "APT-1")
	require.NoError(t, err)
	require.True(t, inflight)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkUrgentUnknownCall(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithDB(mock)

	mock.ExpectExec("UPDATE call_attempts SET urgent").
		WithArgs("call_missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.MarkUrgent(context.Background(), "call_missing")
	require.True(t, errors.Is(err, ErrAttemptNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestOutboxEnqueue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStoreWithDB(mock)

	mock.ExpectExec("INSERT INTO alert_outbox").
		WithArgs(pgxmock.AnyArg(), "att-1", "appt-1", "pat-1", "call_abc", "patient reported chest pain", pgxmock.AnyArg(), StatusPending, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	alert := &Alert{
		AttemptID:      "att-1",
		AppointmentID:  "appt-1",
		PatientID:      "pat-1",
		ExternalCallID: "call_abc",
		Reason:         "patient reported chest pain",
	}
	require.NoError(t, store.Enqueue(context.Background(), alert))
	require.NotEqual(t, uuid.Nil, alert.ID)
	require.Equal(t, StatusPending, alert.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxListDue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStoreWithDB(mock)

	raisedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	extID := "call_abc"
	rows := pgxmock.NewRows([]string{
		"id", "attempt_id", "appointment_id", "patient_id", "external_call_id", "reason",
		"raised_at", "status", "send_attempts", "next_retry_at", "delivered_at", "last_error",
	}).AddRow(uuid.New(), "att-1", "appt-1", "pat-1", &extID, "chest pain",
		raisedAt, StatusPending, 2, raisedAt, nil, nil)

	mock.ExpectQuery("SELECT (.+) FROM alert_outbox").
		WithArgs(StatusPending, pgxmock.AnyArg(), 10).
		WillReturnRows(rows)

	alerts, err := store.ListDue(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, "call_abc", alerts[0].ExternalCallID)
	require.Equal(t, 2, alerts[0].SendAttempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxMarkDeliveredNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStoreWithDB(mock)

	id := uuid.New()
	mock.ExpectExec("UPDATE alert_outbox").
		WithArgs(id, StatusDelivered, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.MarkDelivered(context.Background(), id)
	require.ErrorIs(t, err, ErrAlertNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

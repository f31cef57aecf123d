package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"github.com/tshla/previsit-platform/internal/calls"
)

func emergencyEvent() calls.EmergencyAlert {
	return calls.EmergencyAlert{
		AttemptID:      "att-1",
		AppointmentID:  "appt-1",
		PatientID:      "pat-1",
		ExternalCallID: "call_abc",
		Reason:         "patient reported chest pain",
		RaisedAt:       time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
	}
}

func TestServiceNotifyEmergency_DeliversImmediately(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO alert_outbox").
		WithArgs(pgxmock.AnyArg(), "att-1", "appt-1", "pat-1", "call_abc", "patient reported chest pain", pgxmock.AnyArg(), StatusPending, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE alert_outbox").
		WithArgs(pgxmock.AnyArg(), StatusDelivered, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	sender := &fakeSender{}
	svc := NewService(NewOutboxStoreWithDB(mock), sender, nil)

	require.NoError(t, svc.NotifyEmergency(context.Background(), emergencyEvent()))
	require.Equal(t, 1, sender.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceNotifyEmergency_SendFailureLeavesPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO alert_outbox").
		WithArgs(pgxmock.AnyArg(), "att-1", "appt-1", "pat-1", "call_abc", "patient reported chest pain", pgxmock.AnyArg(), StatusPending, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE alert_outbox").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "webhook 503").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	sender := &fakeSender{err: errors.New("webhook 503")}
	svc := NewService(NewOutboxStoreWithDB(mock), sender, nil)

	// Send failure is not an error: the alert is durable and will be retried.
	require.NoError(t, svc.NotifyEmergency(context.Background(), emergencyEvent()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceNotifyEmergency_EnqueueFailureIsAnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO alert_outbox").
		WithArgs(pgxmock.AnyArg(), "att-1", "appt-1", "pat-1", "call_abc", "patient reported chest pain", pgxmock.AnyArg(), StatusPending, pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	svc := NewService(NewOutboxStoreWithDB(mock), &fakeSender{}, nil)

	require.Error(t, svc.NotifyEmergency(context.Background(), emergencyEvent()))
	require.NoError(t, mock.ExpectationsWereMet())
}

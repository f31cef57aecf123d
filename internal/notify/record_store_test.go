package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestRecordStoreCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewRecordStoreWithDB(mock)

	mock.ExpectExec("INSERT INTO notification_records").
		WithArgs(pgxmock.AnyArg(), "appt-1", "pat-1", "sms", "+15551230001", StatusSent, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := &Record{
		AppointmentID: "appt-1",
		PatientID:     "pat-1",
		Channel:       ChannelSMS,
		Recipient:     "+15551230001",
		Status:        StatusSent,
	}
	require.NoError(t, store.Create(context.Background(), rec))
	require.NotEqual(t, uuid.Nil, rec.ID)
	require.False(t, rec.SentAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreListForAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewRecordStoreWithDB(mock)

	sentAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"id", "appointment_id", "patient_id", "channel", "recipient", "status", "detail", "sent_at"}).
		AddRow(uuid.New(), "appt-1", "pat-1", "email", "maria@example.com", StatusFailed, "sendgrid status 503", sentAt).
		AddRow(uuid.New(), "appt-1", "pat-1", "sms", "+15551230001", StatusSent, "", sentAt)

	mock.ExpectQuery("SELECT (.+) FROM notification_records").
		WithArgs("appt-1").
		WillReturnRows(rows)

	recs, err := store.ListForAppointment(context.Background(), "appt-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, ChannelEmail, recs[0].Channel)
	require.Equal(t, StatusFailed, recs[0].Status)
	require.Equal(t, "+15551230001", recs[1].Recipient)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreHasReminder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewRecordStoreWithDB(mock)

	mock.ExpectQuery("SELECT 1 FROM notification_records").
		WithArgs("appt-1", StatusSent).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	sent, err := store.HasReminder(context.Background(), "appt-1")
	require.NoError(t, err)
	require.True(t, sent)

	mock.ExpectQuery("SELECT 1 FROM notification_records").
		WithArgs("appt-2", StatusSent).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}))

	sent, err = store.HasReminder(context.Background(), "appt-2")
	require.NoError(t, err)
	require.False(t, sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

package notify

import (
	"context"
	"fmt"

	"github.com/tshla/previsit-platform/internal/scheduler"
	"github.com/tshla/previsit-platform/pkg/logging"
)

// ReminderService sends the three-days-out appointment reminder over SMS and
// email, recording the outcome of every delivery attempt.
type ReminderService struct {
	sms        SMSSender
	email      EmailSender
	records    *RecordStore
	clinicName string
	logger     *logging.Logger
}

// NewReminderService creates a reminder service. Either sender may be nil
// when the channel is not configured.
func NewReminderService(sms SMSSender, email EmailSender, records *RecordStore, clinicName string, logger *logging.Logger) *ReminderService {
	if logger == nil {
		logger = logging.Default()
	}
	if clinicName == "" {
		clinicName = "your provider's office"
	}
	return &ReminderService{
		sms:        sms,
		email:      email,
		records:    records,
		clinicName: clinicName,
		logger:     logger.Component("reminders"),
	}
}

// SendReminder delivers the reminder for one appointment. A reminder already
// recorded as sent is not sent again, so repeated scheduler cycles on the
// same day are safe.
func (s *ReminderService) SendReminder(ctx context.Context, r scheduler.Reminder) error {
	if s.records != nil {
		sent, err := s.records.HasReminder(ctx, r.AppointmentID)
		if err != nil {
			return fmt.Errorf("notify: reminder dedup check: %w", err)
		}
		if sent {
			s.logger.Debug("reminder already sent, skipping", "appointment_id", r.AppointmentID)
			return nil
		}
	}

	attempted, failed := 0, 0

	if s.sms != nil && r.PatientPhone != "" {
		attempted++
		err := s.sms.SendSMS(ctx, r.PatientPhone, s.smsBody(r))
		s.record(ctx, r, ChannelSMS, r.PatientPhone, err)
		if err != nil {
			failed++
			s.logger.Error("reminder sms failed", "error", err, "appointment_id", r.AppointmentID)
		}
	}

	if s.email != nil && r.PatientEmail != "" {
		attempted++
		msg := s.emailMessage(r)
		err := s.email.Send(ctx, msg)
		s.record(ctx, r, ChannelEmail, r.PatientEmail, err)
		if err != nil {
			failed++
			s.logger.Error("reminder email failed", "error", err, "appointment_id", r.AppointmentID)
		}
	}

	if attempted == 0 {
		s.logger.Warn("no reminder channel available for patient", "appointment_id", r.AppointmentID, "patient_id", r.PatientID)
		return nil
	}
	if failed == attempted {
		return fmt.Errorf("notify: all %d reminder channel(s) failed for appointment %s", attempted, r.AppointmentID)
	}
	return nil
}

func (s *ReminderService) record(ctx context.Context, r scheduler.Reminder, ch Channel, recipient string, sendErr error) {
	if s.records == nil {
		return
	}
	rec := &Record{
		AppointmentID: r.AppointmentID,
		PatientID:     r.PatientID,
		Channel:       ch,
		Recipient:     recipient,
		Status:        StatusSent,
	}
	if sendErr != nil {
		rec.Status = StatusFailed
		rec.Detail = sendErr.Error()
	}
	if err := s.records.Create(ctx, rec); err != nil {
		s.logger.Error("failed to record reminder delivery", "error", err, "appointment_id", r.AppointmentID)
	}
}

func (s *ReminderService) smsBody(r scheduler.Reminder) string {
	return fmt.Sprintf(
		"Hi %s, this is a reminder of your appointment with %s on %s. We'll call you over the next few days with a few pre-visit questions. Reply STOP to opt out of calls.",
		firstName(r.PatientName), r.ProviderName, r.AppointmentAt.Format("Monday, January 2 at 3:04 PM"),
	)
}

func (s *ReminderService) emailMessage(r scheduler.Reminder) EmailMessage {
	when := r.AppointmentAt.Format("Monday, January 2 at 3:04 PM")
	body := fmt.Sprintf(`Hi %s,

This is a reminder of your upcoming appointment with %s on %s.

Over the next few days we will call you to go over a few pre-visit questions: your current medications, any refills you need, and anything you'd like your provider to know before the visit. The call takes about five minutes.

If you need to reschedule, please contact the office.

- %s`, firstName(r.PatientName), r.ProviderName, when, s.clinicName)

	return EmailMessage{
		To:      r.PatientEmail,
		ToName:  r.PatientName,
		Subject: fmt.Sprintf("Appointment reminder: %s", when),
		Body:    body,
	}
}

func firstName(full string) string {
	if full == "" {
		return "there"
	}
	for i, c := range full {
		if c == ' ' {
			return full[:i]
		}
	}
	return full
}

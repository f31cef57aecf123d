package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/tshla/previsit-platform/internal/appointments"
	"github.com/tshla/previsit-platform/internal/calls"
	"github.com/tshla/previsit-platform/internal/patients"
	"github.com/tshla/previsit-platform/pkg/logging"
)

// Offsets relative to the appointment date. -3 sends a reminder; -2/-1/0
// place call attempts 1, 2 and 3.
const (
	reminderOffset = -3
	firstCallOff   = -2
)

type appointmentSource interface {
	ListOnDate(ctx context.Context, date time.Time) ([]appointments.Appointment, error)
}

type patientSource interface {
	GetByID(ctx context.Context, id string) (*patients.Patient, error)
}

type attemptReader interface {
	HasCompleted(ctx context.Context, appointmentID string) (bool, error)
	HasInFlight(ctx context.Context, appointmentID string) (bool, error)
	HasAttempt(ctx context.Context, appointmentID string, attemptNumber int) (bool, error)
	CountForAppointment(ctx context.Context, appointmentID string) (int, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, req calls.DispatchRequest) error
}

// Reminder is the pre-call notification sent three days out.
type Reminder struct {
	AppointmentID string
	PatientID     string
	PatientName   string
	PatientPhone  string
	PatientEmail  string
	ProviderName  string
	AppointmentAt time.Time
}

// ReminderSender delivers the offset -3 reminder over SMS/email.
type ReminderSender interface {
	SendReminder(ctx context.Context, r Reminder) error
}

// ReminderFunc adapts a function to ReminderSender.
type ReminderFunc func(ctx context.Context, r Reminder) error

func (f ReminderFunc) SendReminder(ctx context.Context, r Reminder) error { return f(ctx, r) }

// Scheduler runs the daily dispatch cycle: for each day-offset it selects
// candidate appointments, applies the eligibility rules and hands eligible
// ones to the orchestrator. One appointment failing never aborts the batch.
type Scheduler struct {
	appts    appointmentSource
	patients patientSource
	attempts attemptReader
	dialer   dispatcher
	reminder ReminderSender
	cycles   *CycleStore
	lock     *CycleLock
	logger   *logging.Logger

	loc            *time.Location
	restDay        time.Weekday
	business       Window
	attemptWindows [3]Window
	jitterMax      time.Duration
	interval       time.Duration
	workers        int
	now            func() time.Time
}

func NewScheduler(appts appointmentSource, pats patientSource, attempts attemptReader, dialer dispatcher, reminder ReminderSender, cycles *CycleStore, lock *CycleLock, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		appts:    appts,
		patients: pats,
		attempts: attempts,
		dialer:   dialer,
		reminder: reminder,
		cycles:   cycles,
		lock:     lock,
		logger:   logger.Component("scheduler"),
		loc:      time.UTC,
		restDay:  time.Sunday,
		business: MustParseWindow("08:00-18:00"),
		attemptWindows: [3]Window{
			MustParseWindow("10:00-12:00"),
			MustParseWindow("13:00-15:00"),
			MustParseWindow("08:00-10:00"),
		},
		jitterMax: 90 * time.Second,
		interval:  15 * time.Minute,
		workers:   4,
		now:       time.Now,
	}
}

func (s *Scheduler) WithTimezone(loc *time.Location) *Scheduler {
	if loc != nil {
		s.loc = loc
	}
	return s
}

func (s *Scheduler) WithRestDay(d time.Weekday) *Scheduler {
	s.restDay = d
	return s
}

func (s *Scheduler) WithBusinessHours(w Window) *Scheduler {
	s.business = w
	return s
}

func (s *Scheduler) WithAttemptWindows(first, second, third Window) *Scheduler {
	s.attemptWindows = [3]Window{first, second, third}
	return s
}

func (s *Scheduler) WithJitterMax(d time.Duration) *Scheduler {
	if d >= 0 {
		s.jitterMax = d
	}
	return s
}

func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *Scheduler) WithWorkers(n int) *Scheduler {
	if n > 0 {
		s.workers = n
	}
	return s
}

func (s *Scheduler) WithNow(now func() time.Time) *Scheduler {
	if now != nil {
		s.now = now
	}
	return s
}

// Run ticks RunCycle until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

type cycleStats struct {
	mu         sync.Mutex
	reminders  int
	dispatched int
	failures   int
}

func (c *cycleStats) add(reminders, dispatched, failures int) {
	c.mu.Lock()
	c.reminders += reminders
	c.dispatched += dispatched
	c.failures += failures
	c.mu.Unlock()
}

// RunCycle runs one full scheduling pass. A concurrently running cycle makes
// this one a no-op.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	acquired, release, err := s.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		s.logger.Info("cycle already running, skipping")
		return nil
	}
	defer release()

	cycleID, err := s.cycles.Begin(ctx)
	if err != nil {
		return err
	}

	now := s.now().In(s.loc)
	stats := &cycleStats{}

	for offset := reminderOffset; offset <= 0; offset++ {
		targetDate := now.AddDate(0, 0, -offset)
		appts, err := s.appts.ListOnDate(ctx, targetDate)
		if err != nil {
			s.logger.Error("list appointments", "error", err, "offset", offset)
			stats.add(0, 0, 1)
			continue
		}
		if len(appts) == 0 {
			continue
		}
		if offset == reminderOffset {
			s.sendReminders(ctx, appts, stats)
			continue
		}
		s.dispatchCalls(ctx, appts, offset-firstCallOff+1, now, stats)
	}

	if err := s.cycles.Finish(ctx, cycleID, stats.reminders, stats.dispatched, stats.failures); err != nil {
		s.logger.Error("record cycle completion", "error", err)
	}
	s.logger.Info("cycle finished",
		"reminders", stats.reminders,
		"dispatched", stats.dispatched,
		"failures", stats.failures)
	return nil
}

func (s *Scheduler) sendReminders(ctx context.Context, appts []appointments.Appointment, stats *cycleStats) {
	for _, apt := range appts {
		if !apt.Active() {
			continue
		}
		patient, err := s.patients.GetByID(ctx, apt.PatientID)
		if err != nil {
			s.logger.Error("load patient for reminder", "error", err, "appointment_id", apt.ID)
			stats.add(0, 0, 1)
			continue
		}
		if patient.Status != patients.StatusActive {
			continue
		}
		err = s.reminder.SendReminder(ctx, Reminder{
			AppointmentID: apt.ID,
			PatientID:     patient.ID,
			PatientName:   patient.FullName,
			PatientPhone:  patient.Phone,
			PatientEmail:  patient.Email,
			ProviderName:  apt.ProviderName,
			AppointmentAt: apt.StartsAt,
		})
		if err != nil {
			s.logger.Error("send reminder", "error", err, "appointment_id", apt.ID)
			stats.add(0, 0, 1)
			continue
		}
		stats.add(1, 0, 0)
	}
}

func (s *Scheduler) dispatchCalls(ctx context.Context, appts []appointments.Appointment, attemptNumber int, now time.Time, stats *cycleStats) {
	if !s.callingAllowed(attemptNumber, now) {
		s.logger.Info("outside calling window, skipping attempt batch",
			"attempt", attemptNumber,
			"window", s.attemptWindows[attemptNumber-1].String())
		return
	}

	work := make(chan appointments.Appointment)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for apt := range work {
				s.dispatchOne(ctx, apt, attemptNumber, stats)
			}
		}()
	}
	for _, apt := range appts {
		work <- apt
	}
	close(work)
	wg.Wait()
}

func (s *Scheduler) dispatchOne(ctx context.Context, apt appointments.Appointment, attemptNumber int, stats *cycleStats) {
	eligible, patient, err := s.eligible(ctx, apt, attemptNumber)
	if err != nil {
		s.logger.Error("eligibility check", "error", err, "appointment_id", apt.ID, "attempt", attemptNumber)
		stats.add(0, 0, 1)
		return
	}
	if !eligible {
		return
	}

	// Spread dispatches inside the window so a large batch does not place
	// every call in the same second.
	if s.jitterMax > 0 {
		jitter := time.Duration(rand.Int63n(int64(s.jitterMax)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter):
		}
	}

	err = s.dialer.Dispatch(ctx, calls.DispatchRequest{
		AppointmentID: apt.ID,
		PatientID:     patient.ID,
		PatientName:   patient.FullName,
		PatientPhone:  patient.Phone,
		ProviderName:  apt.ProviderName,
		AppointmentAt: apt.StartsAt,
		AttemptNumber: attemptNumber,
	})
	if err != nil {
		s.logger.Error("dispatch call", "error", err, "appointment_id", apt.ID, "attempt", attemptNumber)
		stats.add(0, 0, 1)
		return
	}
	stats.add(0, 1, 0)
}

// eligible applies the dispatch rules: active appointment, callable patient,
// no completed conversation yet, attempt slot still open, nothing in flight.
func (s *Scheduler) eligible(ctx context.Context, apt appointments.Appointment, attemptNumber int) (bool, *patients.Patient, error) {
	if !apt.Active() {
		return false, nil, nil
	}
	patient, err := s.patients.GetByID(ctx, apt.PatientID)
	if err != nil {
		return false, nil, err
	}
	if patient.OptOutCalls || patient.Status != patients.StatusActive || patient.Phone == "" {
		return false, nil, nil
	}
	done, err := s.attempts.HasCompleted(ctx, apt.ID)
	if err != nil {
		return false, nil, err
	}
	if done {
		return false, nil, nil
	}
	count, err := s.attempts.CountForAppointment(ctx, apt.ID)
	if err != nil {
		return false, nil, err
	}
	if count >= attemptNumber {
		return false, nil, nil
	}
	taken, err := s.attempts.HasAttempt(ctx, apt.ID, attemptNumber)
	if err != nil {
		return false, nil, err
	}
	if taken {
		return false, nil, nil
	}
	inflight, err := s.attempts.HasInFlight(ctx, apt.ID)
	if err != nil {
		return false, nil, err
	}
	if inflight {
		return false, nil, nil
	}
	return true, patient, nil
}

func (s *Scheduler) callingAllowed(attemptNumber int, now time.Time) bool {
	if now.Weekday() == s.restDay {
		return false
	}
	if !s.business.Contains(now) {
		return false
	}
	return s.attemptWindows[attemptNumber-1].Contains(now)
}

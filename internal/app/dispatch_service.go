// internal/app/dispatch_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clinic_reminder_dispatch/internal/domain/delivery"
	"clinic_reminder_dispatch/internal/domain/reminder"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrFetchCandidates is returned when a cycle cannot load its candidates; nothing was attempted.
var ErrFetchCandidates = errors.New("failed to fetch reminders")

// DispatchService runs reminder dispatch cycles.
type DispatchService interface {
	RunCycle(ctx context.Context) (reminder.CycleResult, error)
}

// AlertNotifier tells staff that a reminder has used up its retry budget.
type AlertNotifier interface {
	NotifyExhausted(ctx context.Context, c reminder.Candidate, upd reminder.FailureUpdate) error
}

// Observer receives dispatch and purge outcomes, e.g. for metrics.
type Observer interface {
	ReminderProcessed(kind reminder.Kind, outcome reminder.Outcome)
	CycleCompleted(result reminder.CycleResult, elapsed time.Duration, err error)
	RemindersPurged(count int64)
}

// DispatcherOptions tunes a Dispatcher. Zero values fall back to defaults.
type DispatcherOptions struct {
	Concurrency int
	ClaimLease  time.Duration
	Now         func() time.Time
}

const (
	defaultConcurrency = 4
	defaultClaimLease  = 10 * time.Minute

	// finalizeTimeout bounds the status write after a delivery attempt.
	finalizeTimeout = 30 * time.Second
)

// Dispatcher implements DispatchService.
type Dispatcher struct {
	store    reminder.Store
	channel  delivery.Channel
	renderer *Renderer
	policy   reminder.Policy
	alerts   AlertNotifier
	observer Observer
	logger   *logrus.Entry

	concurrency int
	claimLease  time.Duration
	now         func() time.Time
}

func NewDispatcher(
	store reminder.Store,
	channel delivery.Channel,
	renderer *Renderer,
	policy reminder.Policy,
	logger *logrus.Entry,
	opts DispatcherOptions,
) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		channel:     channel,
		renderer:    renderer,
		policy:      policy,
		logger:      logger,
		concurrency: opts.Concurrency,
		claimLease:  opts.ClaimLease,
		now:         opts.Now,
	}
	if d.concurrency <= 0 {
		d.concurrency = defaultConcurrency
	}
	if d.claimLease <= 0 {
		d.claimLease = defaultClaimLease
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// SetAlertNotifier enables staff alerts for exhausted reminders.
func (d *Dispatcher) SetAlertNotifier(a AlertNotifier) {
	d.alerts = a
}

// SetObserver attaches an outcome observer.
func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

// RunCycle fetches every candidate, delivers those that are due and records each outcome.
// Per-reminder problems never abort the cycle; only a failed candidate fetch does.
func (d *Dispatcher) RunCycle(ctx context.Context) (reminder.CycleResult, error) {
	started := d.now()
	var result reminder.CycleResult

	candidates, err := d.store.ListCandidates(ctx, started, d.policy.MaxAttempts)
	if err != nil {
		d.logger.WithError(err).Error("Failed to fetch reminders")
		err = fmt.Errorf("%w: %v", ErrFetchCandidates, err)
		d.observeCycle(result, started, err)
		return result, err
	}
	d.logger.Infof("Processing %d reminders", len(candidates))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, d.concurrency)
	)
	for _, c := range candidates {
		wg.Add(1)
		sem <- struct{}{}
		go func(c reminder.Candidate) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := d.processSafely(ctx, c, started)

			mu.Lock()
			result.Add(outcome)
			mu.Unlock()
			if d.observer != nil {
				d.observer.ReminderProcessed(c.Reminder.Kind, outcome)
			}
		}(c)
	}
	wg.Wait()

	d.logger.WithFields(logrus.Fields{
		"sent":     result.Sent,
		"failed":   result.Failed,
		"skipped":  result.Skipped,
		"duration": d.now().Sub(started).String(),
	}).Info("Reminder dispatch cycle completed")
	d.observeCycle(result, started, nil)
	return result, nil
}

func (d *Dispatcher) observeCycle(result reminder.CycleResult, started time.Time, err error) {
	if d.observer != nil {
		d.observer.CycleCompleted(result, d.now().Sub(started), err)
	}
}

// processSafely keeps a panic in one reminder from taking down the cycle.
func (d *Dispatcher) processSafely(ctx context.Context, c reminder.Candidate, now time.Time) (outcome reminder.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.reminderLogger(c).Errorf("Panic while processing reminder: %v", r)
			outcome = reminder.OutcomeFailed
		}
	}()
	return d.process(ctx, c, now)
}

func (d *Dispatcher) process(ctx context.Context, c reminder.Candidate, now time.Time) reminder.Outcome {
	log := d.reminderLogger(c)
	rem := c.Reminder
	appt := c.Appointment

	recipient, missing := d.recipient(appt)
	if missing != "" {
		log.WithField("missing", missing).Warn("Skipping reminder - missing delivery data")
		return reminder.OutcomeSkipped
	}

	decision := d.policy.Evaluate(rem, appt.StartsAt, now)
	if decision == reminder.DecisionSkip {
		log.Debug("Reminder not due yet")
		return reminder.OutcomeSkipped
	}

	if err := ctx.Err(); err != nil {
		log.WithError(err).Warn("Skipping reminder - cycle cancelled")
		return reminder.OutcomeSkipped
	}

	token := uuid.New()
	claimedAt := d.now()
	err := d.store.Claim(ctx, reminder.Claim{
		ReminderID:       rem.ID,
		ExpectStatus:     rem.Status,
		ExpectRetryCount: rem.RetryCount,
		Token:            token,
		Now:              claimedAt,
		Until:            claimedAt.Add(d.claimLease),
	})
	if err != nil {
		if errors.Is(err, reminder.ErrPreconditionFailed) {
			log.Info("Skipping reminder - already handled by another cycle")
		} else {
			log.WithError(err).Error("Failed to claim reminder")
		}
		return reminder.OutcomeSkipped
	}

	sendErr := d.deliver(ctx, rem.Kind, appt, recipient)

	// The outcome is recorded even when the cycle deadline passed during delivery.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if sendErr == nil {
		if err := d.store.MarkSent(fctx, rem.ID, token, d.now()); err != nil {
			log.WithError(err).Error("Reminder delivered but could not be marked as sent")
		} else {
			log.WithField("decision", decision.String()).Info("Reminder sent successfully")
		}
		return reminder.OutcomeSent
	}

	upd := d.policy.ScheduleRetry(rem, d.now(), sendErr)
	failLog := log.WithFields(logrus.Fields{
		"retry_count":   upd.RetryCount,
		"next_retry_at": upd.NextRetryAt.Format(time.RFC3339),
	})
	if err := d.store.MarkFailed(fctx, rem.ID, token, upd); err != nil {
		failLog.WithError(err).Error("Failed to record reminder failure")
	}
	failLog.WithError(sendErr).Error("Failed to send reminder")

	if d.policy.Exhausted(upd.RetryCount) {
		failLog.Warn("Reminder exhausted its retry budget")
		d.alertExhausted(fctx, c, upd, failLog)
	}
	return reminder.OutcomeFailed
}

// deliver renders and sends one reminder. A panicking channel counts as a failed send.
func (d *Dispatcher) deliver(ctx context.Context, kind reminder.Kind, appt *reminder.Appointment, to string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery channel panicked: %v", r)
		}
	}()

	msg, err := d.renderer.Render(d.channel.Medium(), kind, appt, to)
	if err != nil {
		return err
	}
	return d.channel.Send(ctx, msg)
}

func (d *Dispatcher) alertExhausted(ctx context.Context, c reminder.Candidate, upd reminder.FailureUpdate, log *logrus.Entry) {
	if d.alerts == nil {
		return
	}
	if err := d.alerts.NotifyExhausted(ctx, c, upd); err != nil {
		log.WithError(err).Warn("Failed to send exhausted reminder alert")
	}
}

// recipient picks the address for the configured channel and names the first missing field, if any.
// A missing dentist is not a data gap; the message is rendered without one.
func (d *Dispatcher) recipient(appt *reminder.Appointment) (string, string) {
	if appt == nil {
		return "", "appointment"
	}
	var to string
	switch d.channel.Medium() {
	case delivery.MediumSMS:
		if !appt.PatientPhone.Valid || appt.PatientPhone.String == "" {
			return "", "patient_phone"
		}
		to = appt.PatientPhone.String
	default:
		if !appt.PatientEmail.Valid || appt.PatientEmail.String == "" {
			return "", "patient_email"
		}
		to = appt.PatientEmail.String
	}
	if !appt.ServiceName.Valid || appt.ServiceName.String == "" {
		return "", "service"
	}
	return to, ""
}

func (d *Dispatcher) reminderLogger(c reminder.Candidate) *logrus.Entry {
	return d.logger.WithFields(logrus.Fields{
		"reminder_id":    c.Reminder.ID.String(),
		"appointment_id": c.Reminder.AppointmentID.String(),
		"kind":           string(c.Reminder.Kind),
		"status":         string(c.Reminder.Status),
		"retry_count":    c.Reminder.RetryCount,
	})
}

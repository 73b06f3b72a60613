package scheduler

import (
	"context"
	"fmt"
	"time"

	"clinic_reminder_dispatch/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Purger deletes reminders past retention.
type Purger interface {
	PurgeSent(ctx context.Context) (int64, error)
}

type DispatchScheduler struct {
	cronEngine        *cron.Cron
	dispatcher        app.DispatchService
	purger            Purger
	logger            *logrus.Entry
	cronSpecReminders string
	cronSpecPurge     string
	cycleTimeout      time.Duration
}

func NewDispatchScheduler(
	dispatcher app.DispatchService,
	purger Purger,
	logger *logrus.Entry,
	cronSpecReminders string, // e.g. "0 * * * *" (hourly)
	cronSpecPurge string, // e.g. "0 0 1 * *" (monthly)
	cycleTimeout time.Duration,
) *DispatchScheduler {
	cronLogger := cron.PrintfLogger(logger)
	return &DispatchScheduler{
		cronEngine: cron.New(
			cron.WithLocation(time.Local),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		dispatcher:        dispatcher,
		purger:            purger,
		logger:            logger,
		cronSpecReminders: cronSpecReminders,
		cronSpecPurge:     cronSpecPurge,
		cycleTimeout:      cycleTimeout,
	}
}

// Start registers the jobs and starts the cron engine.
func (s *DispatchScheduler) Start() error {
	s.logger.Info("Starting dispatch scheduler...")

	if _, err := s.cronEngine.AddFunc(s.cronSpecReminders, s.runDispatch); err != nil {
		return fmt.Errorf("could not add reminder dispatch cron job: %w", err)
	}
	if s.purger != nil && s.cronSpecPurge != "" {
		if _, err := s.cronEngine.AddFunc(s.cronSpecPurge, s.runPurge); err != nil {
			return fmt.Errorf("could not add purge cron job: %w", err)
		}
	}

	s.cronEngine.Start()
	s.logger.WithField("jobs", len(s.cronEngine.Entries())).Info("Dispatch scheduler started")
	return nil
}

func (s *DispatchScheduler) runDispatch() {
	s.logger.Info("Cron job triggered for reminder dispatch")
	ctx, cancel := context.WithTimeout(context.Background(), s.cycleTimeout)
	defer cancel()
	if _, err := s.dispatcher.RunCycle(ctx); err != nil {
		s.logger.WithError(err).Error("Reminder dispatch cycle failed")
	}
}

func (s *DispatchScheduler) runPurge() {
	s.logger.Info("Cron job triggered for reminder purge")
	ctx, cancel := context.WithTimeout(context.Background(), s.cycleTimeout)
	defer cancel()
	if _, err := s.purger.PurgeSent(ctx); err != nil {
		s.logger.WithError(err).Error("Reminder purge failed")
	}
}

func (s *DispatchScheduler) Stop() {
	s.logger.Info("Stopping dispatch scheduler...")
	ctx := s.cronEngine.Stop() // Stops new runs and waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Dispatch scheduler gracefully stopped")
}

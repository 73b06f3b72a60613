package app

import (
	"context"
	"fmt"
	"time"

	"clinic_reminder_dispatch/internal/domain/reminder"

	"github.com/sirupsen/logrus"
)

// PurgeService deletes sent reminders past the retention period.
type PurgeService struct {
	store     reminder.Store
	retention time.Duration
	observer  Observer
	logger    *logrus.Entry
	now       func() time.Time
}

func NewPurgeService(store reminder.Store, retention time.Duration, logger *logrus.Entry) *PurgeService {
	return &PurgeService{store: store, retention: retention, logger: logger, now: time.Now}
}

func (s *PurgeService) SetObserver(o Observer) {
	s.observer = o
}

// PurgeSent removes sent reminders whose sent_at is older than the retention period.
func (s *PurgeService) PurgeSent(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.store.PurgeSent(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Failed to purge sent reminders")
		return 0, fmt.Errorf("failed to purge sent reminders: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"deleted": deleted,
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("Purged sent reminders")
	if s.observer != nil {
		s.observer.RemindersPurged(deleted)
	}
	return deleted, nil
}

package app

import (
	"context"
	"errors"
	"fmt"

	"clinic_reminder_dispatch/internal/domain/reminder"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BookingService creates the reminder rows for a newly booked appointment.
type BookingService struct {
	store  reminder.Store
	kinds  []reminder.Kind
	logger *logrus.Entry
}

func NewBookingService(store reminder.Store, logger *logrus.Entry) *BookingService {
	return &BookingService{store: store, kinds: reminder.Kinds, logger: logger}
}

// CreateReminders inserts one pending reminder per kind. Calling it again for the
// same appointment creates nothing and returns 0.
func (s *BookingService) CreateReminders(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	if appointmentID == uuid.Nil {
		return 0, reminder.ErrAppointmentNotFound
	}
	created, err := s.store.CreateForAppointment(ctx, appointmentID, s.kinds)
	if err != nil {
		if errors.Is(err, reminder.ErrAppointmentNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to create reminders for appointment %s: %w", appointmentID, err)
	}
	s.logger.WithFields(logrus.Fields{
		"appointment_id": appointmentID.String(),
		"created":        created,
	}).Info("Reminders scheduled for appointment")
	return created, nil
}

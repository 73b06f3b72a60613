package app

import (
	"context"
	"database/sql"
	"io"
	"sort"
	"sync"
	"time"

	"clinic_reminder_dispatch/internal/domain/reminder"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// memStore is an in-memory reminder.Store with the same conditional-write rules as the Postgres one.
// Writes fail on a done context the way database/sql does.
type memStore struct {
	mu           sync.Mutex
	rows         map[uuid.UUID]*memRow
	appointments map[uuid.UUID]*memAppointment

	listErr       error
	markSentErr   error
	markFailedErr error
	// beforeList runs after candidates are read, before they are returned.
	beforeList func()
}

type memRow struct {
	rem          reminder.Reminder
	token        uuid.UUID
	claimedUntil time.Time
}

type memAppointment struct {
	appt      reminder.Appointment
	cancelled bool
	deleted   bool
}

func newMemStore() *memStore {
	return &memStore{
		rows:         make(map[uuid.UUID]*memRow),
		appointments: make(map[uuid.UUID]*memAppointment),
	}
}

func (s *memStore) addAppointment(startsAt time.Time) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.appointments[id] = &memAppointment{appt: reminder.Appointment{
		ID:           id,
		StartsAt:     startsAt,
		EndsAt:       sql.NullTime{Time: startsAt.Add(30 * time.Minute), Valid: true},
		Status:       "scheduled",
		PatientName:  sql.NullString{String: "Abebe Kebede", Valid: true},
		PatientEmail: sql.NullString{String: "abebe@example.com", Valid: true},
		PatientPhone: sql.NullString{String: "+251911000000", Valid: true},
		DentistName:  sql.NullString{String: "Sara Tesfaye", Valid: true},
		ServiceName:  sql.NullString{String: "Cleaning", Valid: true},
	}}
	return id
}

func (s *memStore) addReminder(appointmentID uuid.UUID, kind reminder.Kind, status reminder.Status, retryCount int, nextRetryAt *time.Time) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	rem := reminder.Reminder{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Kind:          kind,
		Status:        status,
		RetryCount:    retryCount,
	}
	if nextRetryAt != nil {
		rem.NextRetryAt = sql.NullTime{Time: *nextRetryAt, Valid: true}
	}
	s.rows[rem.ID] = &memRow{rem: rem}
	return rem.ID
}

func (s *memStore) get(id uuid.UUID) reminder.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].rem
}

func (s *memStore) claimed(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].token != uuid.Nil
}

func (s *memStore) candidate(row *memRow) reminder.Candidate {
	appt := s.appointments[row.rem.AppointmentID].appt
	return reminder.Candidate{Reminder: row.rem, Appointment: &appt}
}

func (s *memStore) ListCandidates(_ context.Context, now time.Time, maxAttempts int) ([]reminder.Candidate, error) {
	s.mu.Lock()
	if s.listErr != nil {
		s.mu.Unlock()
		return nil, s.listErr
	}
	var out []reminder.Candidate
	for _, row := range s.rows {
		a, ok := s.appointments[row.rem.AppointmentID]
		if !ok || a.cancelled || a.deleted {
			continue
		}
		if row.token != uuid.Nil && row.claimedUntil.After(now) {
			continue
		}
		r := row.rem
		pending := r.Status == reminder.StatusPending
		retryable := r.Status == reminder.StatusFailed && r.RetryCount < maxAttempts &&
			r.NextRetryAt.Valid && !r.NextRetryAt.Time.After(now)
		if pending || retryable {
			out = append(out, s.candidate(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Appointment.StartsAt.Before(out[j].Appointment.StartsAt)
	})
	hook := s.beforeList
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *memStore) Claim(ctx context.Context, c reminder.Claim) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[c.ReminderID]
	if !ok || row.rem.Status != c.ExpectStatus || row.rem.RetryCount != c.ExpectRetryCount {
		return reminder.ErrPreconditionFailed
	}
	if row.token != uuid.Nil && row.claimedUntil.After(c.Now) {
		return reminder.ErrPreconditionFailed
	}
	row.token = c.Token
	row.claimedUntil = c.Until
	return nil
}

func (s *memStore) MarkSent(ctx context.Context, id uuid.UUID, token uuid.UUID, sentAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markSentErr != nil {
		return s.markSentErr
	}
	row, ok := s.rows[id]
	if !ok || row.token != token || row.rem.Status == reminder.StatusSent {
		return reminder.ErrPreconditionFailed
	}
	row.rem.Status = reminder.StatusSent
	row.rem.SentAt = sql.NullTime{Time: sentAt, Valid: true}
	row.token = uuid.Nil
	row.claimedUntil = time.Time{}
	return nil
}

func (s *memStore) MarkFailed(ctx context.Context, id uuid.UUID, token uuid.UUID, upd reminder.FailureUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markFailedErr != nil {
		return s.markFailedErr
	}
	row, ok := s.rows[id]
	if !ok || row.token != token || row.rem.Status == reminder.StatusSent {
		return reminder.ErrPreconditionFailed
	}
	row.rem.Status = reminder.StatusFailed
	row.rem.RetryCount = upd.RetryCount
	row.rem.NextRetryAt = sql.NullTime{Time: upd.NextRetryAt, Valid: true}
	row.rem.LastError = sql.NullString{String: upd.LastError, Valid: true}
	row.token = uuid.Nil
	row.claimedUntil = time.Time{}
	return nil
}

func (s *memStore) CreateForAppointment(_ context.Context, appointmentID uuid.UUID, kinds []reminder.Kind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appointments[appointmentID]; !ok {
		return 0, reminder.ErrAppointmentNotFound
	}
	var created int64
	for _, k := range kinds {
		exists := false
		for _, row := range s.rows {
			if row.rem.AppointmentID == appointmentID && row.rem.Kind == k {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		id := uuid.New()
		s.rows[id] = &memRow{rem: reminder.Reminder{
			ID: id, AppointmentID: appointmentID, Kind: k, Status: reminder.StatusPending,
		}}
		created++
	}
	return created, nil
}

func (s *memStore) ListExhausted(_ context.Context, maxAttempts int, limit int) ([]reminder.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reminder.Candidate
	for _, row := range s.rows {
		if row.rem.Status == reminder.StatusFailed && row.rem.RetryCount >= maxAttempts {
			out = append(out, s.candidate(row))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) PurgeSent(_ context.Context, sentBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, row := range s.rows {
		if row.rem.Status == reminder.StatusSent && row.rem.SentAt.Time.Before(sentBefore) {
			delete(s.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func discardLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

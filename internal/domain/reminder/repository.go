// internal/domain/reminder/repository.go
package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPreconditionFailed is returned by conditional writes when the row no longer
	// has the state the caller observed (another cycle got there first).
	ErrPreconditionFailed = errors.New("reminder state changed concurrently")
	// ErrAppointmentNotFound is returned when reminders are requested for an unknown appointment.
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Store defines the persistence operations the dispatch engine relies on.
// Every mutating call is a single conditional write keyed by reminder id.
type Store interface {
	// ListCandidates returns pending reminders and failed reminders whose retry time has come
	// (retry_count < maxAttempts), excluding cancelled and soft-deleted appointments.
	ListCandidates(ctx context.Context, now time.Time, maxAttempts int) ([]Candidate, error)

	// Claim hands one reminder to the caller. ErrPreconditionFailed if someone else holds it
	// or its status/retry_count moved on.
	Claim(ctx context.Context, c Claim) error
	// MarkSent transitions a claimed reminder to sent and releases the claim.
	MarkSent(ctx context.Context, id uuid.UUID, token uuid.UUID, sentAt time.Time) error
	// MarkFailed writes retry bookkeeping for a claimed reminder and releases the claim.
	MarkFailed(ctx context.Context, id uuid.UUID, token uuid.UUID, upd FailureUpdate) error

	// CreateForAppointment inserts one pending reminder per kind, ignoring kinds that already exist.
	CreateForAppointment(ctx context.Context, appointmentID uuid.UUID, kinds []Kind) (int64, error)
	// ListExhausted returns failed reminders that ran out of attempts.
	ListExhausted(ctx context.Context, maxAttempts int, limit int) ([]Candidate, error)
	// PurgeSent deletes sent reminders whose sent_at is before the cutoff.
	PurgeSent(ctx context.Context, sentBefore time.Time) (int64, error)
}

// internal/domain/reminder/reminder.go
package reminder

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Kind selects the lead-time window of a reminder.
// Values match the 'reminders.kind' column.
type Kind string

const (
	KindLongLead  Kind = "24h" // sent the day before
	KindShortLead Kind = "2h"  // sent shortly before the visit
)

// Kinds lists every kind created for a booked appointment.
var Kinds = []Kind{KindLongLead, KindShortLead}

// Status is the delivery state of a reminder.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Reminder corresponds to a row of the 'reminders' table.
type Reminder struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Kind          Kind
	Status        Status
	RetryCount    int
	NextRetryAt   sql.NullTime
	SentAt        sql.NullTime
	LastError     sql.NullString
}

// Appointment carries the read-only appointment and contact fields joined to a reminder.
type Appointment struct {
	ID           uuid.UUID
	StartsAt     time.Time
	EndsAt       sql.NullTime
	Status       string
	PatientName  sql.NullString
	PatientEmail sql.NullString
	PatientPhone sql.NullString
	DentistName  sql.NullString
	ServiceName  sql.NullString
}

// Candidate is a reminder selected for evaluation together with its appointment data.
type Candidate struct {
	Reminder    Reminder
	Appointment *Appointment
}

// Claim describes a conditional hand-off of one reminder to a single dispatch cycle.
// It succeeds only while the row still has ExpectStatus and ExpectRetryCount and no live lease.
type Claim struct {
	ReminderID       uuid.UUID
	ExpectStatus     Status
	ExpectRetryCount int
	Token            uuid.UUID
	Now              time.Time
	Until            time.Time
}

// FailureUpdate is the retry bookkeeping written after a failed delivery.
type FailureUpdate struct {
	RetryCount  int
	NextRetryAt time.Time
	LastError   string
	FailedAt    time.Time
}

// CycleResult aggregates the outcome of one dispatch cycle.
type CycleResult struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Total returns the number of candidates the cycle looked at.
func (r CycleResult) Total() int {
	return r.Sent + r.Failed + r.Skipped
}

// Outcome is how a single candidate ended up in a cycle.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Add counts one outcome.
func (r *CycleResult) Add(o Outcome) {
	switch o {
	case OutcomeSent:
		r.Sent++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
}

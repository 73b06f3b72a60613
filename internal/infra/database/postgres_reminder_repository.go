// internal/infra/database/postgres_reminder_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinic_reminder_dispatch/internal/domain/reminder"

	"github.com/google/uuid"
	"github.com/lib/pq" // For pq.Array and error codes
)

// foreignKeyViolation is the Postgres SQLSTATE for a failed REFERENCES check.
const foreignKeyViolation = "23503"

const candidateColumns = `r.id, r.appointment_id, r.kind, r.status, r.retry_count, r.next_retry_at, r.sent_at, r.last_error,
               a.id, a.starts_at, a.ends_at, a.status, p.full_name, p.email, p.phone, d.full_name, s.name`

const candidateJoins = `FROM reminders r
               JOIN appointments a ON a.id = r.appointment_id
               LEFT JOIN patients p ON p.id = a.patient_id
               LEFT JOIN dentists d ON d.id = a.dentist_id
               LEFT JOIN services s ON s.id = a.service_id`

type PostgresReminderRepository struct {
	db *sql.DB
}

func NewPostgresReminderRepository(db *sql.DB) *PostgresReminderRepository {
	return &PostgresReminderRepository{db: db}
}

var _ reminder.Store = (*PostgresReminderRepository)(nil)

func (r *PostgresReminderRepository) ListCandidates(ctx context.Context, now time.Time, maxAttempts int) ([]reminder.Candidate, error) {
	query := `SELECT ` + candidateColumns + `
               ` + candidateJoins + `
               WHERE (r.status = 'pending' OR (r.status = 'failed' AND r.retry_count < $2 AND r.next_retry_at <= $1))
                 AND a.status <> 'cancelled'
                 AND a.deleted_at IS NULL
                 AND (r.claimed_until IS NULL OR r.claimed_until <= $1)
               ORDER BY a.starts_at, r.id`
	rows, err := r.db.QueryContext(ctx, query, now, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("error querying reminder candidates: %w", err)
	}
	defer rows.Close()
	return scanCandidates(rows)
}

func (r *PostgresReminderRepository) Claim(ctx context.Context, c reminder.Claim) error {
	query := `UPDATE reminders
               SET claim_token = $2, claimed_until = $3, updated_at = $4
               WHERE id = $1
                 AND status = $5
                 AND retry_count = $6
                 AND (claimed_until IS NULL OR claimed_until <= $4)`
	result, err := r.db.ExecContext(ctx, query, c.ReminderID, c.Token, c.Until, c.Now, c.ExpectStatus, c.ExpectRetryCount)
	if err != nil {
		return fmt.Errorf("error claiming reminder %s: %w", c.ReminderID, err)
	}
	return expectOneRow(result, c.ReminderID)
}

func (r *PostgresReminderRepository) MarkSent(ctx context.Context, id uuid.UUID, token uuid.UUID, sentAt time.Time) error {
	query := `UPDATE reminders
               SET status = 'sent', sent_at = $3, claim_token = NULL, claimed_until = NULL, updated_at = $3
               WHERE id = $1 AND claim_token = $2 AND status <> 'sent'`
	result, err := r.db.ExecContext(ctx, query, id, token, sentAt)
	if err != nil {
		return fmt.Errorf("error marking reminder %s as sent: %w", id, err)
	}
	return expectOneRow(result, id)
}

func (r *PostgresReminderRepository) MarkFailed(ctx context.Context, id uuid.UUID, token uuid.UUID, upd reminder.FailureUpdate) error {
	query := `UPDATE reminders
               SET status = 'failed', retry_count = $3, next_retry_at = $4, last_error = $5,
                   claim_token = NULL, claimed_until = NULL, updated_at = $6
               WHERE id = $1 AND claim_token = $2 AND status <> 'sent'`
	result, err := r.db.ExecContext(ctx, query, id, token, upd.RetryCount, upd.NextRetryAt, upd.LastError, upd.FailedAt)
	if err != nil {
		return fmt.Errorf("error marking reminder %s as failed: %w", id, err)
	}
	return expectOneRow(result, id)
}

func (r *PostgresReminderRepository) CreateForAppointment(ctx context.Context, appointmentID uuid.UUID, kinds []reminder.Kind) (int64, error) {
	if len(kinds) == 0 {
		return 0, nil
	}
	kindsAsStrings := make([]string, len(kinds))
	for i, k := range kinds {
		kindsAsStrings[i] = string(k)
	}

	query := `INSERT INTO reminders (appointment_id, kind, status)
               SELECT $1, k, 'pending' FROM unnest($2::text[]) AS k
               ON CONFLICT (appointment_id, kind) DO NOTHING`
	result, err := r.db.ExecContext(ctx, query, appointmentID, pq.Array(kindsAsStrings))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return 0, reminder.ErrAppointmentNotFound
		}
		return 0, fmt.Errorf("error creating reminders for appointment %s: %w", appointmentID, err)
	}
	created, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected for reminder creation: %w", err)
	}
	return created, nil
}

func (r *PostgresReminderRepository) ListExhausted(ctx context.Context, maxAttempts int, limit int) ([]reminder.Candidate, error) {
	query := `SELECT ` + candidateColumns + `
               ` + candidateJoins + `
               WHERE r.status = 'failed' AND r.retry_count >= $1
               ORDER BY r.updated_at DESC, r.id
               LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying exhausted reminders: %w", err)
	}
	defer rows.Close()
	return scanCandidates(rows)
}

func (r *PostgresReminderRepository) PurgeSent(ctx context.Context, sentBefore time.Time) (int64, error) {
	query := `DELETE FROM reminders WHERE status = 'sent' AND sent_at < $1`
	result, err := r.db.ExecContext(ctx, query, sentBefore)
	if err != nil {
		return 0, fmt.Errorf("error purging sent reminders: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected for purge: %w", err)
	}
	return deleted, nil
}

func expectOneRow(result sql.Result, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for reminder %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return reminder.ErrPreconditionFailed
	}
	return nil
}

func scanCandidates(rows *sql.Rows) ([]reminder.Candidate, error) {
	candidates := make([]reminder.Candidate, 0)
	for rows.Next() {
		var rem reminder.Reminder
		var appt reminder.Appointment
		if err := rows.Scan(
			&rem.ID, &rem.AppointmentID, &rem.Kind, &rem.Status, &rem.RetryCount,
			&rem.NextRetryAt, &rem.SentAt, &rem.LastError,
			&appt.ID, &appt.StartsAt, &appt.EndsAt, &appt.Status,
			&appt.PatientName, &appt.PatientEmail, &appt.PatientPhone, &appt.DentistName, &appt.ServiceName,
		); err != nil {
			return nil, fmt.Errorf("error scanning reminder candidate row: %w", err)
		}
		candidates = append(candidates, reminder.Candidate{Reminder: rem, Appointment: &appt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reminder candidate rows: %w", err)
	}
	return candidates, nil
}

// internal/infra/telegram/alert.go
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clinic_reminder_dispatch/internal/domain/reminder"
	domainTelegram "clinic_reminder_dispatch/internal/domain/telegram"

	"gopkg.in/telebot.v3"
)

// ExhaustedAlerter notifies the clinic admin chat when a reminder has used up its retries.
type ExhaustedAlerter struct {
	client      domainTelegram.Client
	adminChatID int64
	location    *time.Location
}

func NewExhaustedAlerter(client domainTelegram.Client, adminChatID int64, location *time.Location) *ExhaustedAlerter {
	if location == nil {
		location = time.UTC
	}
	return &ExhaustedAlerter{client: client, adminChatID: adminChatID, location: location}
}

func (a *ExhaustedAlerter) NotifyExhausted(ctx context.Context, c reminder.Candidate, upd reminder.FailureUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := formatExhausted(c, upd.RetryCount, upd.LastError, a.location)
	if err := a.client.SendMessage(a.adminChatID, "⚠️ Reminder gave up after all retries\n\n"+text, &telebot.SendOptions{DisableWebPagePreview: true}); err != nil {
		return fmt.Errorf("failed to send exhausted alert for reminder %s: %w", c.Reminder.ID, err)
	}
	return nil
}

// formatExhausted renders one exhausted reminder as a few plain lines.
func formatExhausted(c reminder.Candidate, retryCount int, lastError string, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reminder: %s (%s)\n", c.Reminder.ID, c.Reminder.Kind)
	fmt.Fprintf(&b, "Attempts: %d\n", retryCount)
	if c.Appointment != nil {
		patient := c.Appointment.PatientName.String
		if patient == "" {
			patient = "unknown patient"
		}
		fmt.Fprintf(&b, "Patient: %s\n", patient)
		if c.Appointment.PatientEmail.Valid {
			fmt.Fprintf(&b, "Email: %s\n", c.Appointment.PatientEmail.String)
		}
		if c.Appointment.PatientPhone.Valid {
			fmt.Fprintf(&b, "Phone: %s\n", c.Appointment.PatientPhone.String)
		}
		fmt.Fprintf(&b, "Appointment: %s\n", c.Appointment.StartsAt.In(loc).Format("Mon Jan 2, 3:04 PM"))
	}
	if lastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", lastError)
	}
	return strings.TrimRight(b.String(), "\n")
}

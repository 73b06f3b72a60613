// internal/infra/email/sendgrid.go
package email

import (
	"context"
	"fmt"

	"clinic_reminder_dispatch/internal/domain/delivery"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridChannel delivers reminders through the SendGrid v3 mail API.
type SendGridChannel struct {
	apiKey    string
	fromEmail string
	fromName  string
	baseURL   string // overrides the API endpoint, empty in production
}

func NewSendGridChannel(apiKey, fromEmail, fromName string) *SendGridChannel {
	return &SendGridChannel{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (c *SendGridChannel) Medium() delivery.Medium {
	return delivery.MediumEmail
}

func (c *SendGridChannel) Send(ctx context.Context, msg delivery.Message) error {
	if msg.To == "" {
		return delivery.ErrMissingRecipient
	}

	from := mail.NewEmail(c.fromName, c.fromEmail)
	to := mail.NewEmail("", msg.To)
	var message *mail.SGMailV3
	if msg.HTML != "" {
		message = mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)
	} else {
		message = mail.NewSingleEmailPlainText(from, msg.Subject, to, msg.Text)
	}

	// The client keeps the request body on itself, so each send gets its own.
	client := sendgrid.NewSendClient(c.apiKey)
	if c.baseURL != "" {
		client.BaseURL = c.baseURL
	}

	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid request failed: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid rejected email to %s: %d %s", msg.To, response.StatusCode, response.Body)
	}
	return nil
}

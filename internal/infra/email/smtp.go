// internal/infra/email/smtp.go
package email

import (
	"context"
	"fmt"
	"time"

	"clinic_reminder_dispatch/internal/domain/delivery"

	"gopkg.in/mail.v2"
)

const smtpTimeout = 15 * time.Second

// SMTPChannel delivers reminders through a plain SMTP relay.
type SMTPChannel struct {
	dialer *mail.Dialer
	from   string
}

func NewSMTPChannel(host string, port int, username, password, fromEmail, fromName string) *SMTPChannel {
	dialer := mail.NewDialer(host, port, username, password)
	dialer.Timeout = smtpTimeout
	return &SMTPChannel{
		dialer: dialer,
		from:   formatAddress(fromEmail, fromName),
	}
}

func formatAddress(address, name string) string {
	if name == "" {
		return address
	}
	return mail.NewMessage().FormatAddress(address, name)
}

func (c *SMTPChannel) Medium() delivery.Medium {
	return delivery.MediumEmail
}

func (c *SMTPChannel) buildMessage(msg delivery.Message) *mail.Message {
	message := mail.NewMessage()
	message.SetHeader("From", c.from)
	message.SetHeader("To", msg.To)
	message.SetHeader("Subject", msg.Subject)

	message.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		message.AddAlternative("text/html", msg.HTML)
	}
	return message
}

func (c *SMTPChannel) Send(ctx context.Context, msg delivery.Message) error {
	if msg.To == "" {
		return delivery.ErrMissingRecipient
	}
	// The dialer has no context support; bail out early if the cycle is already over.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.dialer.DialAndSend(c.buildMessage(msg)); err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", msg.To, err)
	}
	return nil
}

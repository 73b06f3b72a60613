// internal/infra/sms/kavenegar.go
package sms

import (
	"context"
	"fmt"

	"clinic_reminder_dispatch/internal/domain/delivery"

	"github.com/kavenegar/kavenegar-go"
	"github.com/sirupsen/logrus"
)

// sendFunc sends one text to one receptor and returns the provider message id.
type sendFunc func(receptor, text string) (string, error)

// KavenegarChannel delivers reminders as SMS through Kavenegar.
type KavenegarChannel struct {
	send   sendFunc
	logger *logrus.Entry
}

func NewKavenegarChannel(apiKey, sender string, logger *logrus.Entry) *KavenegarChannel {
	api := kavenegar.New(apiKey)
	return &KavenegarChannel{
		logger: logger,
		send: func(receptor, text string) (string, error) {
			res, err := api.Message.Send(sender, []string{receptor}, text, nil)
			if err != nil {
				switch err := err.(type) {
				case *kavenegar.APIError:
					return "", fmt.Errorf("kavenegar API error: %w", err)
				case *kavenegar.HTTPError:
					return "", fmt.Errorf("kavenegar HTTP error: %w", err)
				default:
					return "", fmt.Errorf("failed to send SMS: %w", err)
				}
			}
			if len(res) == 0 {
				return "", fmt.Errorf("no response entries from Kavenegar")
			}
			return fmt.Sprintf("%d", res[0].MessageID), nil
		},
	}
}

func (c *KavenegarChannel) Medium() delivery.Medium {
	return delivery.MediumSMS
}

func (c *KavenegarChannel) Send(ctx context.Context, msg delivery.Message) error {
	if msg.To == "" {
		return delivery.ErrMissingRecipient
	}
	if msg.Text == "" {
		return fmt.Errorf("message text is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	messageID, err := c.send(msg.To, msg.Text)
	if err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.WithField("message_id", messageID).Debug("SMS accepted by Kavenegar")
	}
	return nil
}

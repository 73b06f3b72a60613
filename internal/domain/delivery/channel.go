// internal/domain/delivery/channel.go
package delivery

import (
	"context"
	"errors"
)

// Medium is the kind of address a channel delivers to.
type Medium string

const (
	MediumEmail Medium = "email"
	MediumSMS   Medium = "sms"
)

// ErrMissingRecipient is returned by channels when a message has no address.
var ErrMissingRecipient = errors.New("recipient address is required")

// Message is a fully rendered notification.
// HTML is optional; channels that cannot send HTML use Text.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Channel sends rendered messages through an external provider.
// Send either succeeds or returns an error describing the failure.
type Channel interface {
	Medium() Medium
	Send(ctx context.Context, msg Message) error
}

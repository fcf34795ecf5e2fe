// Package mailer delivers notification emails, either directly over SMTP or
// by queueing them for a relay.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

var (
	// ErrInvalidMessage is returned for messages that can never be delivered
	ErrInvalidMessage = errors.New("invalid mail message")
)

// Message is one notification email. It is also the JSON envelope queued for
// the relay.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	JobName string `json:"job_name,omitempty"`
}

// Validate checks the recipient address and the subject
func (m *Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: recipient %q: %v", ErrInvalidMessage, m.To, err)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	return nil
}

// Sender delivers messages
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// ContentType of queued envelopes
const ContentType = "application/json"

// Publisher publishes raw message bodies to a broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// QueueSender hands messages to a broker for delivery by the relay
type QueueSender struct {
	publisher Publisher
	logger    *slog.Logger
}

var _ Sender = (*QueueSender)(nil)

// NewQueueSender creates a new queue sender
func NewQueueSender(publisher Publisher, logger *slog.Logger) *QueueSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueSender{publisher: publisher, logger: logger}
}

// Send publishes msg as a JSON envelope
func (q *QueueSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal mail envelope: %w", err)
	}

	if err := q.publisher.PublishWithRetry(ctx, body, ContentType); err != nil {
		return fmt.Errorf("failed to queue email: %w", err)
	}

	q.logger.Info("Email queued",
		slog.String("to", msg.To),
		slog.String("job", msg.JobName),
	)
	return nil
}

// DecodeEnvelope parses a queued envelope and validates it
func DecodeEnvelope(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

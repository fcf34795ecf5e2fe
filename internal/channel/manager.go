// Package channel manages the per-job status queues that external workers write to.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobstatus/internal/domain"
	"github.com/cuongbtq/jobstatus/shared/sqs"
)

const (
	// StatusAttribute carries the status label as a structured message attribute
	StatusAttribute = "Status"

	DefaultRetention   = 14 * 24 * time.Hour
	DefaultReceiveMax  = 10
	DefaultReceiveWait = 12 * time.Second
)

// Transport is the queue service behind job channels.
type Transport interface {
	CreateQueue(ctx context.Context, name string, attrs sqs.QueueAttributes) (string, error)
	Send(ctx context.Context, queue string, msg sqs.OutgoingMessage) (string, error)
	Receive(ctx context.Context, queue string, opts sqs.ReceiveOptions) ([]sqs.Message, error)
	DeleteQueue(ctx context.Context, queue string) error
}

var _ Transport = (*sqs.Client)(nil)

// Config holds channel manager configuration
type Config struct {
	Logger            *slog.Logger
	Transport         Transport
	Retention         time.Duration
	ReceiveMax        int
	VisibilityTimeout time.Duration
	ReceiveWait       time.Duration
}

// Manager creates, writes, reads and deletes job channels
type Manager struct {
	logger    *slog.Logger
	transport Transport
	retention time.Duration
	readOpts  sqs.ReceiveOptions
}

// Handle identifies a provisioned channel.
type Handle struct {
	JobName string
	Queue   string
	URL     string
}

// Latest is the newest message found in a channel.
type Latest struct {
	Body   string
	Status domain.Status
	SentAt time.Time
}

// NewManager creates a new channel manager
func NewManager(cfg *Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		logger:    logger,
		transport: cfg.Transport,
		retention: cfg.Retention,
		readOpts: sqs.ReceiveOptions{
			MaxMessages:       cfg.ReceiveMax,
			VisibilityTimeout: cfg.VisibilityTimeout,
			WaitTime:          cfg.ReceiveWait,
		},
	}
	if m.retention <= 0 {
		m.retention = DefaultRetention
	}
	if m.readOpts.MaxMessages <= 0 {
		m.readOpts.MaxMessages = DefaultReceiveMax
	}
	if m.readOpts.WaitTime <= 0 {
		m.readOpts.WaitTime = DefaultReceiveWait
	}
	return m
}

// ReceiveWait returns the long-poll wait used by ReadLatest.
func (m *Manager) ReceiveWait() time.Duration {
	return m.readOpts.WaitTime
}

// Create provisions the channel for jobName and enqueues the initial Queued
// status. On failure nothing is left behind and a *CreationError is returned.
func (m *Manager) Create(ctx context.Context, jobName string) (*Handle, error) {
	queue := domain.ChannelName(jobName)

	url, err := m.transport.CreateQueue(ctx, queue, sqs.QueueAttributes{
		FIFO:                      true,
		ContentBasedDeduplication: true,
		RetentionPeriod:           m.retention,
		VisibilityTimeout:         m.readOpts.VisibilityTimeout,
	})
	if err != nil {
		m.logger.Error("Failed to create channel",
			slog.String("job", jobName),
			slog.String("error", err.Error()),
		)
		return nil, &CreationError{JobName: jobName, Err: err}
	}

	if err := m.Send(ctx, jobName, domain.NewStatus(domain.CodeQueued)); err != nil {
		m.logger.Error("Failed to enqueue initial status, removing channel",
			slog.String("job", jobName),
			slog.String("error", err.Error()),
		)
		if delErr := m.Delete(ctx, jobName); delErr != nil {
			m.logger.Warn("Failed to remove channel after creation failure",
				slog.String("job", jobName),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, &CreationError{JobName: jobName, Err: err}
	}

	m.logger.Info("Channel created",
		slog.String("job", jobName),
		slog.String("queue", queue),
	)

	return &Handle{JobName: jobName, Queue: queue, URL: url}, nil
}

// Send appends a status message to the job's channel.
func (m *Manager) Send(ctx context.Context, jobName string, status domain.Status) error {
	body := status.String()

	_, err := m.transport.Send(ctx, domain.ChannelName(jobName), sqs.OutgoingMessage{
		Body:       body,
		GroupID:    jobName,
		Attributes: map[string]string{StatusAttribute: body},
	})
	if err != nil {
		if sqs.IsNotFound(err) {
			return fmt.Errorf("failed to send status to job %s: %w", jobName, ErrChannelNotFound)
		}
		return fmt.Errorf("failed to send status to job %s: %w", jobName, err)
	}

	m.logger.Debug("Status sent",
		slog.String("job", jobName),
		slog.String("status", body),
	)
	return nil
}

// ReadLatest returns the newest message of the job's channel without
// consuming it. Messages are ordered by send timestamp, not receive order.
func (m *Manager) ReadLatest(ctx context.Context, jobName string) (*Latest, error) {
	messages, err := m.transport.Receive(ctx, domain.ChannelName(jobName), m.readOpts)
	if err != nil {
		if sqs.IsNotFound(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("failed to read channel of job %s: %w", jobName, err)
	}

	newest, ok := Newest(messages)
	if !ok {
		return nil, ErrNoMessages
	}

	return &Latest{
		Body:   newest.Body,
		Status: domain.ParseStatus(newest.Body),
		SentAt: newest.SentAt,
	}, nil
}

// Newest returns the message with the greatest send timestamp. Ties keep the
// first message received.
func Newest(messages []sqs.Message) (sqs.Message, bool) {
	if len(messages) == 0 {
		return sqs.Message{}, false
	}

	newest := messages[0]
	for _, msg := range messages[1:] {
		if msg.SentAt.After(newest.SentAt) {
			newest = msg
		}
	}
	return newest, true
}

// Delete removes the job's channel. A channel that is already gone is not an error.
func (m *Manager) Delete(ctx context.Context, jobName string) error {
	if err := m.transport.DeleteQueue(ctx, domain.ChannelName(jobName)); err != nil {
		if sqs.IsNotFound(err) {
			m.logger.Debug("Channel already absent",
				slog.String("job", jobName),
			)
			return nil
		}
		return fmt.Errorf("failed to delete channel of job %s: %w", jobName, err)
	}

	m.logger.Info("Channel deleted",
		slog.String("job", jobName),
	)
	return nil
}

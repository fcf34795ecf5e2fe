// Package relay consumes queued notification emails and delivers them.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/jobstatus/shared/mailer"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Source is the broker the relay consumes from
type Source interface {
	SetPrefetch(count int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds relay configuration
type Config struct {
	Logger        *slog.Logger
	Source        Source
	Sender        mailer.Sender
	ConsumerTag   string
	Concurrency   int
	PrefetchCount int
}

type task struct {
	delivery amqp.Delivery
	message  mailer.Message
}

// Relay delivers queued emails with a pool of workers
type Relay struct {
	logger        *slog.Logger
	source        Source
	sender        mailer.Sender
	consumerTag   string
	concurrency   int
	prefetchCount int

	tasks    chan task
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a new relay
func New(cfg *Config) *Relay {
	r := &Relay{
		logger:        cfg.Logger,
		source:        cfg.Source,
		sender:        cfg.Sender,
		consumerTag:   cfg.ConsumerTag,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		stopChan:      make(chan struct{}),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.concurrency <= 0 {
		r.concurrency = 1
	}
	if r.prefetchCount <= 0 {
		r.prefetchCount = r.concurrency
	}
	if r.consumerTag == "" {
		r.consumerTag = "mail-relay"
	}
	r.tasks = make(chan task)
	return r
}

// Start consumes until ctx is cancelled, Stop is called or the delivery
// channel closes. In-flight deliveries finish before Start returns.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.source.SetPrefetch(r.prefetchCount); err != nil {
		return err
	}

	deliveries, err := r.source.Consume(r.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	r.logger.Info("Mail relay started",
		slog.String("consumer_tag", r.consumerTag),
		slog.Int("concurrency", r.concurrency),
		slog.Int("prefetch_count", r.prefetchCount),
	)

	for i := 0; i < r.concurrency; i++ {
		r.wg.Add(1)
		go r.workerLoop(ctx, i)
	}

	r.dispatch(ctx, deliveries)

	close(r.tasks)
	r.wg.Wait()
	r.logger.Info("Mail relay stopped")
	return nil
}

// Stop makes Start return
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
}

// dispatch decodes deliveries and hands them to the workers
func (r *Relay) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case delivery, ok := <-deliveries:
			if !ok {
				r.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			msg, err := mailer.DecodeEnvelope(delivery.Body)
			if err != nil {
				r.logger.Error("Dropping malformed mail envelope",
					slog.String("error", err.Error()),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
				// malformed envelopes go to the dead letter exchange, if any
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					r.logger.Error("Failed to NACK malformed envelope",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			select {
			case r.tasks <- task{delivery: delivery, message: msg}:
			case <-ctx.Done():
				r.requeueOnShutdown(delivery)
				return
			case <-r.stopChan:
				r.requeueOnShutdown(delivery)
				return
			}
		}
	}
}

func (r *Relay) requeueOnShutdown(delivery amqp.Delivery) {
	if err := delivery.Nack(false, true); err != nil {
		r.logger.Error("Failed to NACK envelope on shutdown",
			slog.String("error", err.Error()),
		)
	}
}

func (r *Relay) workerLoop(ctx context.Context, workerNum int) {
	defer r.wg.Done()

	for t := range r.tasks {
		err := r.deliver(ctx, t.message)
		if err == nil {
			if ackErr := t.delivery.Ack(false); ackErr != nil {
				r.logger.Error("Failed to ACK envelope",
					slog.Int("worker_num", workerNum),
					slog.String("job", t.message.JobName),
					slog.String("error", ackErr.Error()),
				)
			}
			continue
		}

		requeue := shouldRequeue(err, t.delivery.Redelivered)
		r.logger.Error("Mail delivery failed",
			slog.Int("worker_num", workerNum),
			slog.String("job", t.message.JobName),
			slog.String("to", t.message.To),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
		if nackErr := t.delivery.Nack(false, requeue); nackErr != nil {
			r.logger.Error("Failed to NACK envelope",
				slog.Int("worker_num", workerNum),
				slog.String("error", nackErr.Error()),
			)
		}
	}
}

// deliver sends one message, marking transient failures retryable
func (r *Relay) deliver(ctx context.Context, msg mailer.Message) error {
	if err := r.sender.Send(ctx, msg); err != nil {
		if mailer.IsPermanent(err) {
			return err
		}
		return NewRetryableError(err)
	}
	return nil
}

// shouldRequeue requeues a retryable failure once; a redelivered envelope
// that fails again is dropped.
func shouldRequeue(err error, redelivered bool) bool {
	var retryable *RetryableError
	if !errors.As(err, &retryable) {
		return false
	}
	return !redelivered
}

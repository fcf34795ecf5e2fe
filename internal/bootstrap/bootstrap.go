// Package bootstrap builds the shared runtime of the services from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobstatus/internal/channel"
	"github.com/cuongbtq/jobstatus/internal/config"
	"github.com/cuongbtq/jobstatus/internal/index"
	"github.com/cuongbtq/jobstatus/internal/jobstatus"
	"github.com/cuongbtq/jobstatus/internal/trash"
	"github.com/cuongbtq/jobstatus/shared/logger"
	"github.com/cuongbtq/jobstatus/shared/mailer"
	"github.com/cuongbtq/jobstatus/shared/mongodb"
	"github.com/cuongbtq/jobstatus/shared/postgresql"
	"github.com/cuongbtq/jobstatus/shared/rabbitmq"
	"github.com/cuongbtq/jobstatus/shared/sqs"
)

// Runtime holds the index and channel layers shared by the services
type Runtime struct {
	Logger   *slog.Logger
	Index    *index.Index
	Channels *channel.Manager
	// HealthChecks probe the external backends, keyed by component name
	HealthChecks map[string]func(ctx context.Context) error

	closers []func() error
}

// Open connects the index backend and the channel transport selected by cfg
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Runtime, error) {
	rt := &Runtime{
		Logger:       log,
		HealthChecks: make(map[string]func(ctx context.Context) error),
	}

	store, err := rt.openStore(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Index = index.New(&index.Config{Logger: log, Store: store})

	transport, err := initTransport(ctx, &cfg.SQS, log)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Channels = channel.NewManager(&channel.Config{
		Logger:            log,
		Transport:         transport,
		Retention:         cfg.SQS.Retention,
		ReceiveMax:        cfg.SQS.ReceiveMax,
		VisibilityTimeout: cfg.SQS.VisibilityTimeout,
		ReceiveWait:       cfg.SQS.ReceiveWait,
	})

	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, cfg *config.Config) (index.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMongoDB:
		client, err := InitMongoDB(ctx, &cfg.MongoDB, rt.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
		}
		rt.closers = append(rt.closers, func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Close(closeCtx)
		})
		rt.HealthChecks["mongodb"] = client.HealthCheck

		store := index.NewMongoStore(client.Database())
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case config.BackendPostgres:
		client, err := InitPostgreSQL(ctx, &cfg.Database, rt.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		rt.closers = append(rt.closers, client.Close)
		rt.HealthChecks["postgres"] = client.HealthCheck

		store := index.NewPGStore(client)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case config.BackendMemory:
		rt.Logger.Warn("Using in-memory index, records are lost on exit")
		return index.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
}

// StatusReader builds the job status reader over the runtime's channels
func (rt *Runtime) StatusReader(cfg *config.Config) *jobstatus.Reader {
	return jobstatus.NewReader(&jobstatus.Config{
		Logger:      rt.Logger,
		Channels:    rt.Channels,
		SoftLimit:   cfg.Status.SoftLimit,
		HardLimit:   cfg.Status.HardLimit,
		ReadTimeout: jobstatus.ReadTimeoutFor(rt.Channels.ReceiveWait()),
	})
}

// TrashPolicy builds the trash retention policy over the runtime's layers
func (rt *Runtime) TrashPolicy(cfg *config.Config) *trash.Policy {
	return trash.NewPolicy(&trash.Config{
		Logger:    rt.Logger,
		Index:     rt.Index,
		Channels:  rt.Channels,
		Retention: cfg.Trash.Retention,
	})
}

// Close releases the backends in reverse order of opening
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   timeFormat,
	})
}

// InitMongoDB initializes the MongoDB client
func InitMongoDB(ctx context.Context, cfg *config.MongoDBConfig, log *slog.Logger) (*mongodb.Client, error) {
	return mongodb.NewClient(ctx, &mongodb.Config{
		URI:            cfg.URI,
		Database:       cfg.Database,
		Username:       cfg.Username,
		Password:       cfg.Password,
		AuthSource:     cfg.AuthSource,
		MaxPoolSize:    cfg.MaxPoolSize,
		ConnectTimeout: cfg.ConnectTimeout,
	}, log)
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, log *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, log)
}

// initTransport connects to SQS, or returns the in-process transport when
// the configuration asks for it
func initTransport(ctx context.Context, cfg *config.SQSConfig, log *slog.Logger) (channel.Transport, error) {
	if cfg.InMemory {
		log.Warn("Using in-memory job channels, statuses are lost on exit")
		return channel.NewMemoryTransport(nil), nil
	}

	client, err := sqs.NewClient(ctx, sqs.Config{
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		Profile:         cfg.Profile,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		RequestTimeout:  cfg.RequestTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQS: %w", err)
	}
	return client, nil
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, log *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetterExchange,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, log)
}

// NewSMTPSender builds the direct SMTP mail sender
func NewSMTPSender(cfg *config.SMTPConfig, log *slog.Logger) *mailer.SMTPSender {
	return mailer.NewSMTPSender(&mailer.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		Timeout:  cfg.Timeout,
		StartTLS: cfg.StartTLS,
	}, log)
}

// InitMailSender returns the sender selected by the notifier's mail
// transport. The returned close func releases the broker connection, if any.
func InitMailSender(cfg *config.Config, log *slog.Logger) (mailer.Sender, func() error, error) {
	switch cfg.Notifier.MailTransport {
	case config.MailTransportSMTP:
		return NewSMTPSender(&cfg.SMTP, log), func() error { return nil }, nil
	case config.MailTransportRabbitMQ:
		client, err := InitRabbitMQ(&cfg.RabbitMQ, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		return mailer.NewQueueSender(client, log), client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown mail transport: %q", cfg.Notifier.MailTransport)
}

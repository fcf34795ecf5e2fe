package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/jobstatus/internal/config"
	"github.com/cuongbtq/jobstatus/internal/domain"
	"github.com/cuongbtq/jobstatus/shared/mailer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	cfg := &config.Config{
		Store: config.StoreConfig{Backend: config.BackendMemory},
		SQS:   config.SQSConfig{InMemory: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen_InMemory(t *testing.T) {
	cfg := memoryConfig()
	ctx := context.Background()

	rt, err := Open(ctx, cfg, discard())
	require.NoError(t, err)
	defer rt.Close()

	assert.Empty(t, rt.HealthChecks)
	assert.Equal(t, cfg.SQS.ReceiveWait, rt.Channels.ReceiveWait())

	name := domain.NewJobName("run", time.Now())
	_, err = rt.Channels.Create(ctx, name)
	require.NoError(t, err)
	require.NoError(t, rt.Index.Register(ctx, &domain.Experiment{
		JobName:  name,
		User:     "alice",
		Nickname: "run",
		Project:  "atlas",
	}))

	result := rt.StatusReader(cfg).Read(ctx, name)
	assert.Equal(t, domain.CodeQueued, result.Status.Code)

	assert.Equal(t, cfg.Trash.Retention, rt.TrashPolicy(cfg).Retention())
	assert.NoError(t, rt.Close())
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Backend = "sqlite"

	_, err := Open(context.Background(), cfg, discard())
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestInitMailSender(t *testing.T) {
	cfg := memoryConfig()
	cfg.SMTP = config.SMTPConfig{Host: "mail.example.org", Port: 25, From: "portal@example.org"}

	sender, closeFn, err := InitMailSender(cfg, discard())
	require.NoError(t, err)
	assert.IsType(t, &mailer.SMTPSender{}, sender)
	assert.NoError(t, closeFn())

	cfg.Notifier.MailTransport = "pigeon"
	_, _, err = InitMailSender(cfg, discard())
	assert.ErrorContains(t, err, "unknown mail transport")
}

func TestInitLogger(t *testing.T) {
	log, err := InitLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.NotNil(t, log.Logger)
}

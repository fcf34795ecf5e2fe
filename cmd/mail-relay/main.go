package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/jobstatus/internal/bootstrap"
	"github.com/cuongbtq/jobstatus/internal/config"
	"github.com/cuongbtq/jobstatus/internal/relay"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("MAIL_RELAY_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/mail-relay/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateRelay(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting mail relay",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	relayer := relay.New(&relay.Config{
		Logger:        appLogger.Logger,
		Source:        rabbitClient,
		Sender:        bootstrap.NewSMTPSender(&cfg.SMTP, appLogger.Logger),
		ConsumerTag:   cfg.RabbitMQ.Consumer.Tag,
		Concurrency:   cfg.Relay.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- relayer.Start(ctx)
	}()

	appLogger.Info("Mail relay started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Relay error",
				slog.String("error", err.Error()),
			)
		}
		return err
	}

	cancel()

	done := make(chan struct{})
	go func() {
		relayer.Stop()
		close(done)
	}()

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout < 30*time.Second {
		shutdownTimeout = 30 * time.Second
	}
	select {
	case <-done:
		appLogger.Info("Mail relay stopped gracefully")
	case <-time.After(shutdownTimeout):
		appLogger.Warn("Relay shutdown timeout exceeded, forcing exit")
	}

	return nil
}

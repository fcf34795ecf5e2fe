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
	"github.com/cuongbtq/jobstatus/internal/jobstatus"
	"github.com/cuongbtq/jobstatus/internal/notifier"
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

	defaultConfigPath := os.Getenv("NOTIFIER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/notifier-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateNotifier(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting notifier service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("mail_transport", cfg.Notifier.MailTransport),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.Open(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize backends: %w", err)
	}
	defer rt.Close()

	sender, closeSender, err := bootstrap.InitMailSender(cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer closeSender()

	daemon := notifier.New(&notifier.Config{
		Logger:         appLogger.Logger,
		Index:          rt.Index,
		Channels:       rt.Channels,
		Mailer:         sender,
		Interval:       cfg.Notifier.Interval,
		Window:         cfg.Notifier.Window,
		Concurrency:    cfg.Notifier.Concurrency,
		ReadTimeout:    jobstatus.ReadTimeoutFor(rt.Channels.ReceiveWait()),
		ReadsPerSecond: cfg.Notifier.ReadsPerSecond,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- daemon.Run(ctx)
	}()

	appLogger.Info("Notifier service started successfully",
		slog.Duration("interval", cfg.Notifier.Interval),
		slog.Duration("window", cfg.Notifier.Window),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Notifier error",
				slog.String("error", err.Error()),
			)
		}
		return err
	}

	daemon.Stop()
	cancel()

	select {
	case <-errChan:
		appLogger.Info("Notifier stopped gracefully")
	case <-time.After(cfg.Server.ShutdownTimeout):
		appLogger.Warn("Notifier shutdown timeout exceeded, forcing exit")
	}

	return nil
}

// Package notifier runs the notification daemon: every cycle it checks the
// latest status of each recent job and emails the owner once when the job
// reaches a terminal status.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/jobstatus/internal/channel"
	"github.com/cuongbtq/jobstatus/internal/domain"
	"github.com/cuongbtq/jobstatus/shared/mailer"
	"golang.org/x/time/rate"
)

const (
	DefaultInterval    = time.Minute
	DefaultWindow      = 30 * 24 * time.Hour
	DefaultConcurrency = 16
	DefaultReadTimeout = channel.DefaultReceiveWait + 5*time.Second

	emailBodyPrefix = "Hello, you are receiving an update for this job: "
)

// Index lists the jobs to watch.
type Index interface {
	RecentExperiments(ctx context.Context, since time.Time) ([]*domain.Experiment, error)
}

// Channels reads and writes job statuses.
type Channels interface {
	ReadLatest(ctx context.Context, jobName string) (*channel.Latest, error)
	Send(ctx context.Context, jobName string, status domain.Status) error
}

// Config holds notifier configuration
type Config struct {
	Logger      *slog.Logger
	Index       Index
	Channels    Channels
	Mailer      mailer.Sender
	Interval    time.Duration
	Window      time.Duration
	Concurrency int
	ReadTimeout time.Duration
	// ReadsPerSecond caps channel reads across the pool. Zero means unlimited.
	ReadsPerSecond float64
	Now            func() time.Time
}

// Outcome of one job check
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeNoop      Outcome = "noop"
	OutcomeNotified  Outcome = "notified"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNoAddress Outcome = "no_address"
	OutcomeFailed    Outcome = "failed"
)

// CycleSummary counts the outcomes of one cycle
type CycleSummary struct {
	Jobs      int
	Notified  int
	Skipped   int
	Noop      int
	Duplicate int
	NoAddress int
	Failed    int
	Duration  time.Duration
}

func (s *CycleSummary) add(o Outcome) {
	switch o {
	case OutcomeNotified:
		s.Notified++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeNoop:
		s.Noop++
	case OutcomeDuplicate:
		s.Duplicate++
	case OutcomeNoAddress:
		s.NoAddress++
	case OutcomeFailed:
		s.Failed++
	}
}

// Notifier is the notification daemon
type Notifier struct {
	logger      *slog.Logger
	index       Index
	channels    Channels
	mailer      mailer.Sender
	interval    time.Duration
	window      time.Duration
	concurrency int
	readTimeout time.Duration
	limiter     *rate.Limiter
	now         func() time.Time

	guard  *Guard
	ledger *Ledger

	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a new notifier
func New(cfg *Config) *Notifier {
	n := &Notifier{
		logger:      cfg.Logger,
		index:       cfg.Index,
		channels:    cfg.Channels,
		mailer:      cfg.Mailer,
		interval:    cfg.Interval,
		window:      cfg.Window,
		concurrency: cfg.Concurrency,
		readTimeout: cfg.ReadTimeout,
		now:         cfg.Now,
		guard:       NewGuard(),
		ledger:      NewLedger(),
		stopChan:    make(chan struct{}),
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.interval <= 0 {
		n.interval = DefaultInterval
	}
	if n.window <= 0 {
		n.window = DefaultWindow
	}
	if n.concurrency <= 0 {
		n.concurrency = DefaultConcurrency
	}
	if n.readTimeout <= 0 {
		n.readTimeout = DefaultReadTimeout
	}
	if n.now == nil {
		n.now = time.Now
	}
	if cfg.ReadsPerSecond > 0 {
		burst := int(cfg.ReadsPerSecond)
		if burst < 1 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(cfg.ReadsPerSecond), burst)
	}
	return n
}

// Run runs a cycle immediately and then one per interval until ctx is
// cancelled or Stop is called.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info("Starting notifier",
		slog.Duration("interval", n.interval),
		slog.Duration("window", n.window),
		slog.Int("concurrency", n.concurrency),
	)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		if _, err := n.RunCycle(ctx); err != nil && ctx.Err() == nil {
			n.logger.Error("Notifier cycle failed",
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			n.logger.Info("Notifier context canceled, stopping...")
			return nil
		case <-n.stopChan:
			n.logger.Info("Notifier stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop makes Run return after the current cycle
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopChan)
	})
}

// RunCycle checks every job created within the window once. Failures of
// single jobs are logged and counted; only a failure to list jobs is returned.
func (n *Notifier) RunCycle(ctx context.Context) (CycleSummary, error) {
	start := n.now()
	var summary CycleSummary

	exps, err := n.index.RecentExperiments(ctx, start.Add(-n.window))
	if err != nil {
		return summary, fmt.Errorf("failed to list recent jobs: %w", err)
	}
	summary.Jobs = len(exps)

	keep := make(map[string]struct{}, len(exps))
	for _, exp := range exps {
		keep[exp.JobName] = struct{}{}
	}
	if dropped := n.ledger.Prune(keep); dropped > 0 {
		n.logger.Debug("Ledger pruned",
			slog.Int("dropped", dropped),
		)
	}

	var mu sync.Mutex
	n.fanOut(ctx, exps, func(exp *domain.Experiment, outcome Outcome) {
		mu.Lock()
		summary.add(outcome)
		mu.Unlock()
	})

	summary.Duration = n.now().Sub(start)
	n.logger.Info("Notifier cycle finished",
		slog.Int("jobs", summary.Jobs),
		slog.Int("notified", summary.Notified),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// fanOut runs Check for every job on a bounded pool of goroutines
func (n *Notifier) fanOut(ctx context.Context, exps []*domain.Experiment, done func(*domain.Experiment, Outcome)) {
	workers := n.concurrency
	if workers > len(exps) {
		workers = len(exps)
	}

	jobsChan := make(chan *domain.Experiment)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for exp := range jobsChan {
				done(exp, n.safeCheck(ctx, exp))
			}
		}()
	}

dispatch:
	for _, exp := range exps {
		select {
		case jobsChan <- exp:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobsChan)
	wg.Wait()
}

// safeCheck runs Check and turns errors and panics into OutcomeFailed
func (n *Notifier) safeCheck(ctx context.Context, exp *domain.Experiment) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Job check panicked",
				slog.String("job", exp.JobName),
				slog.Any("panic", r),
			)
			outcome = OutcomeFailed
		}
	}()

	outcome, err := n.Check(ctx, exp)
	if err != nil {
		n.logger.Error("Job check failed",
			slog.String("user", exp.User),
			slog.String("job", exp.JobName),
			slog.String("error", err.Error()),
		)
		return OutcomeFailed
	}
	return outcome
}

// Check reads the latest status of one job and notifies its owner when the
// status is terminal and not yet notified. The send and the status rewrite
// happen inside the job's critical section.
func (n *Notifier) Check(ctx context.Context, exp *domain.Experiment) (Outcome, error) {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return OutcomeSkipped, nil
		}
	}

	readCtx, cancel := context.WithTimeout(ctx, n.readTimeout)
	latest, err := n.channels.ReadLatest(readCtx, exp.JobName)
	cancel()
	if err != nil {
		if errors.Is(err, channel.ErrChannelNotFound) || errors.Is(err, channel.ErrNoMessages) {
			return OutcomeSkipped, nil
		}
		return OutcomeFailed, err
	}

	status := latest.Status
	if !status.NotifiesUser() {
		return OutcomeNoop, nil
	}
	if exp.ContactEmail == "" {
		n.logger.Debug("Terminal job has no contact address",
			slog.String("user", exp.User),
			slog.String("job", exp.JobName),
		)
		return OutcomeNoAddress, nil
	}

	outcome := OutcomeNotified
	err = n.guard.Do(exp.JobName, func() error {
		wire := status.String()
		if n.ledger.Notified(exp.JobName, wire) {
			outcome = OutcomeDuplicate
			return nil
		}

		if err := n.mailer.Send(ctx, Email(exp, status)); err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		n.ledger.Record(exp.JobName, wire)

		if err := n.channels.Send(ctx, exp.JobName, status.AsNotified()); err != nil {
			return fmt.Errorf("failed to mark job notified: %w", err)
		}
		return nil
	})
	if err != nil {
		return OutcomeFailed, err
	}

	if outcome == OutcomeNotified {
		n.logger.Info("Job owner notified",
			slog.String("user", exp.User),
			slog.String("job", exp.JobName),
			slog.String("status", status.String()),
		)
	}
	return outcome, nil
}

// Email builds the notification for a job that reached status
func Email(exp *domain.Experiment, status domain.Status) mailer.Message {
	return mailer.Message{
		To:      exp.ContactEmail,
		Subject: "Job " + exp.JobName,
		Body:    emailBodyPrefix + status.String(),
		JobName: exp.JobName,
	}
}

// Package trash implements soft deletion of jobs and their eviction once the
// retention window has passed.
package trash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cuongbtq/jobstatus/internal/domain"
)

// DefaultRetention is how long a trashed job stays restorable
const DefaultRetention = 14 * 24 * time.Hour

// Outcome is the result of evaluating one experiment against the policy
type Outcome string

const (
	OutcomeActive         Outcome = "active"
	OutcomeRetained       Outcome = "retained"
	OutcomeEvicted        Outcome = "evicted"
	OutcomeAlreadyRemoved Outcome = "already_removed"
)

// Index is the experiment store the policy operates on.
type Index interface {
	Experiment(ctx context.Context, user, jobName string) (*domain.Experiment, error)
	Experiments(ctx context.Context, user string) ([]*domain.Experiment, error)
	SetTrashed(ctx context.Context, user, jobName string, state domain.TrashState) error
	Remove(ctx context.Context, exp *domain.Experiment) error
}

// Channels deletes job channels on eviction.
type Channels interface {
	Delete(ctx context.Context, jobName string) error
}

// Config holds trash policy configuration
type Config struct {
	Logger    *slog.Logger
	Index     Index
	Channels  Channels
	Retention time.Duration
	Now       func() time.Time
}

// Policy moves jobs between active, trashed and evicted
type Policy struct {
	logger    *slog.Logger
	index     Index
	channels  Channels
	retention time.Duration
	now       func() time.Time
}

// Entry is one row of a user's trash view.
type Entry struct {
	domain.JobSummary
	TrashedAt time.Time
	ExpiresAt time.Time
}

// SweepSummary counts what a sweep did.
type SweepSummary struct {
	Evaluated  int
	Normalized int
	Evicted    int
	Retained   int
}

// NewPolicy creates a new trash policy
func NewPolicy(cfg *Config) *Policy {
	p := &Policy{
		logger:    cfg.Logger,
		index:     cfg.Index,
		channels:  cfg.Channels,
		retention: cfg.Retention,
		now:       cfg.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.retention <= 0 {
		p.retention = DefaultRetention
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Retention returns the retention window.
func (p *Policy) Retention() time.Duration {
	return p.retention
}

// Trash moves an active job to the trash. Trashing a job that is already in
// the trash keeps its original timestamp.
func (p *Policy) Trash(ctx context.Context, user, jobName string) (*domain.Experiment, error) {
	exp, err := p.index.Experiment(ctx, user, jobName)
	if err != nil {
		return nil, err
	}
	if exp.Removed {
		return nil, domain.ErrAlreadyRemoved
	}
	if !exp.Trashed.At.IsZero() {
		return exp, nil
	}

	exp.Trashed = domain.TrashState{At: p.now().UTC()}
	if err := p.index.SetTrashed(ctx, user, jobName, exp.Trashed); err != nil {
		return nil, fmt.Errorf("failed to trash job %s: %w", jobName, err)
	}

	p.logger.Info("Job moved to trash",
		slog.String("user", user),
		slog.String("job", jobName),
	)
	return exp, nil
}

// Restore moves a trashed job back to the active state.
func (p *Policy) Restore(ctx context.Context, user, jobName string) (*domain.Experiment, error) {
	exp, err := p.index.Experiment(ctx, user, jobName)
	if err != nil {
		return nil, err
	}
	if exp.Removed {
		return nil, domain.ErrAlreadyRemoved
	}
	if !exp.Trashed.IsTrashed() {
		return nil, domain.ErrNotTrashed
	}

	exp.Trashed = domain.TrashState{}
	if err := p.index.SetTrashed(ctx, user, jobName, exp.Trashed); err != nil {
		return nil, fmt.Errorf("failed to restore job %s: %w", jobName, err)
	}

	p.logger.Info("Job restored from trash",
		slog.String("user", user),
		slog.String("job", jobName),
	)
	return exp, nil
}

// Evaluate applies the policy to exp and updates it in place. Legacy trash
// markers are stamped with the current time; jobs trashed longer than the
// retention window are evicted.
func (p *Policy) Evaluate(ctx context.Context, exp *domain.Experiment) (Outcome, error) {
	if exp.Removed {
		return OutcomeAlreadyRemoved, nil
	}
	if !exp.Trashed.IsTrashed() {
		return OutcomeActive, nil
	}

	now := p.now().UTC()

	if exp.Trashed.At.IsZero() {
		state := domain.TrashState{At: now}
		if err := p.index.SetTrashed(ctx, exp.User, exp.JobName, state); err != nil {
			return "", fmt.Errorf("failed to normalize legacy trash marker of %s: %w", exp.JobName, err)
		}
		exp.Trashed = state
		p.logger.Info("Legacy trashed job stamped",
			slog.String("user", exp.User),
			slog.String("job", exp.JobName),
		)
		return OutcomeRetained, nil
	}

	if now.Sub(exp.Trashed.At) <= p.retention {
		return OutcomeRetained, nil
	}

	if err := p.evict(ctx, exp); err != nil {
		return "", err
	}
	return OutcomeEvicted, nil
}

func (p *Policy) evict(ctx context.Context, exp *domain.Experiment) error {
	// A dangling channel expires on its own; eviction continues without it
	if err := p.channels.Delete(ctx, exp.JobName); err != nil {
		p.logger.Warn("Failed to delete channel of evicted job",
			slog.String("user", exp.User),
			slog.String("job", exp.JobName),
			slog.String("error", err.Error()),
		)
	}

	if err := p.index.Remove(ctx, exp); err != nil {
		return fmt.Errorf("failed to evict job %s: %w", exp.JobName, err)
	}
	exp.Removed = true

	p.logger.Info("Job evicted from trash",
		slog.String("user", exp.User),
		slog.String("job", exp.JobName),
		slog.Time("trashed_at", exp.Trashed.At),
	)
	return nil
}

// View evaluates every trashed job of user and returns those still retained,
// most recently trashed first.
func (p *Policy) View(ctx context.Context, user string) ([]Entry, error) {
	var entries []Entry
	_, err := p.sweep(ctx, user, func(exp *domain.Experiment) {
		entries = append(entries, p.entry(exp))
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(a, b int) bool {
		if !entries[a].TrashedAt.Equal(entries[b].TrashedAt) {
			return entries[a].TrashedAt.After(entries[b].TrashedAt)
		}
		return entries[a].JobName > entries[b].JobName
	})
	return entries, nil
}

// Sweep evaluates every trashed job of user.
func (p *Policy) Sweep(ctx context.Context, user string) (SweepSummary, error) {
	return p.sweep(ctx, user, nil)
}

func (p *Policy) sweep(ctx context.Context, user string, retained func(*domain.Experiment)) (SweepSummary, error) {
	var summary SweepSummary

	exps, err := p.index.Experiments(ctx, user)
	if err != nil {
		return summary, err
	}

	var errs []error
	for _, exp := range exps {
		if !exp.Trashed.IsTrashed() {
			continue
		}
		legacy := exp.Trashed.At.IsZero()
		summary.Evaluated++

		outcome, err := p.Evaluate(ctx, exp)
		if err != nil {
			p.logger.Error("Failed to evaluate trashed job",
				slog.String("user", user),
				slog.String("job", exp.JobName),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}

		switch outcome {
		case OutcomeEvicted:
			summary.Evicted++
		case OutcomeRetained:
			if legacy {
				summary.Normalized++
			}
			summary.Retained++
			if retained != nil {
				retained(exp)
			}
		}
	}

	return summary, errors.Join(errs...)
}

func (p *Policy) entry(exp *domain.Experiment) Entry {
	e := Entry{
		JobSummary: domain.JobSummary{
			JobName:  exp.JobName,
			Name:     exp.JobName,
			Project:  exp.Project,
			Modality: exp.Modality,
			Trashed:  exp.Trashed,
		},
		TrashedAt: exp.Trashed.At,
		ExpiresAt: exp.Trashed.At.Add(p.retention),
	}
	if name, err := domain.ParseJobName(exp.JobName); err == nil {
		e.Name = name.Slug
		e.CreatedAt = name.CreatedAt
		e.Date = name.DisplayDate()
	}
	return e
}

// Package submission creates new jobs: a status channel first, then the
// experiment record and its project reference.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/jobstatus/internal/channel"
	"github.com/cuongbtq/jobstatus/internal/domain"
)

var (
	// ErrInvalidRequest is returned when a required request field is missing
	ErrInvalidRequest = errors.New("invalid submission request")
)

// Channels creates and removes job channels.
type Channels interface {
	Create(ctx context.Context, jobName string) (*channel.Handle, error)
	Delete(ctx context.Context, jobName string) error
}

// Index registers experiments.
type Index interface {
	Register(ctx context.Context, exp *domain.Experiment) error
}

// Request describes a job to submit
type Request struct {
	User         string
	Nickname     string
	Project      string
	Modality     string
	Tool         string
	ContactEmail string
}

// Validate checks the required fields
func (r *Request) Validate() error {
	switch {
	case strings.TrimSpace(r.User) == "":
		return fmt.Errorf("%w: user is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Nickname) == "":
		return fmt.Errorf("%w: nickname is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Project) == "":
		return fmt.Errorf("%w: project is required", ErrInvalidRequest)
	}
	return nil
}

// Config holds submission configuration
type Config struct {
	Logger   *slog.Logger
	Channels Channels
	Index    Index
	Now      func() time.Time
}

// Service submits jobs
type Service struct {
	logger   *slog.Logger
	channels Channels
	index    Index
	now      func() time.Time
}

// NewService creates a new submission service
func NewService(cfg *Config) *Service {
	s := &Service{
		logger:   cfg.Logger,
		channels: cfg.Channels,
		index:    cfg.Index,
		now:      cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Submit creates the job's channel with its initial Queued status and then
// records the job in the index. A failure to create the channel leaves no
// record behind; a failure to record the job removes the channel again.
func (s *Service) Submit(ctx context.Context, req Request) (*domain.Experiment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	name := domain.NewJobName(req.Nickname, now)

	if _, err := s.channels.Create(ctx, name); err != nil {
		s.logger.Error("Failed to create job channel",
			slog.String("user", req.User),
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	exp := &domain.Experiment{
		JobName:      name,
		User:         req.User,
		Nickname:     req.Nickname,
		Project:      req.Project,
		Modality:     req.Modality,
		Tool:         req.Tool,
		ContactEmail: req.ContactEmail,
		CreatedAt:    now,
	}

	if err := s.index.Register(ctx, exp); err != nil {
		// the channel belongs to the job already registered under this name
		if errors.Is(err, domain.ErrExperimentExists) {
			return nil, fmt.Errorf("failed to register job %s: %w", name, err)
		}
		if delErr := s.channels.Delete(ctx, name); delErr != nil {
			s.logger.Warn("Failed to delete channel of unregistered job",
				slog.String("job", name),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("failed to register job %s: %w", name, err)
	}

	s.logger.Info("Job submitted",
		slog.String("user", req.User),
		slog.String("job", name),
		slog.String("project", req.Project),
	)

	return exp, nil
}

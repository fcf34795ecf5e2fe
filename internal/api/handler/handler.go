package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/jobstatus/internal/domain"
	"github.com/cuongbtq/jobstatus/internal/index"
	"github.com/cuongbtq/jobstatus/internal/jobstatus"
	"github.com/cuongbtq/jobstatus/internal/submission"
	"github.com/cuongbtq/jobstatus/internal/trash"
)

// Submitter creates jobs
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (*domain.Experiment, error)
}

// Index reads experiment records and job listings
type Index interface {
	Experiment(ctx context.Context, user, jobName string) (*domain.Experiment, error)
	ListJobs(ctx context.Context, user string, filter index.JobFilter) ([]domain.JobSummary, *index.JobCursor, error)
}

// StatusReader reads the current status of a job
type StatusReader interface {
	Read(ctx context.Context, jobName string) jobstatus.Result
}

// TrashPolicy moves jobs in and out of the trash
type TrashPolicy interface {
	Trash(ctx context.Context, user, jobName string) (*domain.Experiment, error)
	Restore(ctx context.Context, user, jobName string) (*domain.Experiment, error)
	View(ctx context.Context, user string) ([]trash.Entry, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Submitter Submitter
	Index     Index
	Statuses  StatusReader
	Trash     TrashPolicy
	// HealthChecks are probed by /health, keyed by component name
	HealthChecks map[string]func(ctx context.Context) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	submitter Submitter
	index     Index
	statuses  StatusReader
	trash     TrashPolicy
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		submitter: deps.Submitter,
		index:     deps.Index,
		statuses:  deps.Statuses,
		trash:     deps.Trash,
	}
}

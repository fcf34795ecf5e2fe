package index

import (
	"context"
	"time"

	"github.com/cuongbtq/jobstatus/internal/domain"
)

// Store persists experiments and projects. Every method is a single
// operation on the backing store; PushJobRef and PullJobRef update the
// reference list and the counter together.
type Store interface {
	// InsertExperiment stores a new experiment. Duplicates return domain.ErrExperimentExists.
	InsertExperiment(ctx context.Context, exp *domain.Experiment) error

	// GetExperiment returns domain.ErrExperimentNotFound when missing.
	GetExperiment(ctx context.Context, user, jobName string) (*domain.Experiment, error)

	// ListExperiments returns every experiment owned by user.
	ListExperiments(ctx context.Context, user string) ([]*domain.Experiment, error)

	// ListExperimentsSince returns experiments of all users created at or after since.
	ListExperimentsSince(ctx context.Context, since time.Time) ([]*domain.Experiment, error)

	// SetTrashed replaces the trash marker. A zero state restores the experiment.
	SetTrashed(ctx context.Context, user, jobName string, state domain.TrashState) error

	// MarkRemoved hides the experiment for good. The record is kept.
	MarkRemoved(ctx context.Context, user, jobName string) error

	// DeleteExperiment drops the record of a job that was never fully registered.
	// A missing record is not an error.
	DeleteExperiment(ctx context.Context, user, jobName string) error

	// EnsureProject creates an empty project unless it exists and reports whether it was created.
	EnsureProject(ctx context.Context, project *domain.Project) (bool, error)

	// GetProject returns domain.ErrProjectNotFound when missing.
	GetProject(ctx context.Context, user, name string) (*domain.Project, error)

	// ListProjects returns every project owned by user.
	ListProjects(ctx context.Context, user string) ([]*domain.Project, error)

	// PushJobRef appends ref and increments the counter. A present ref is a no-op.
	PushJobRef(ctx context.Context, user, project string, ref domain.JobRef) error

	// PullJobRef removes the ref and decrements the counter. An absent ref is a no-op.
	PullJobRef(ctx context.Context, user, project, jobName string) error
}

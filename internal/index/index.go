// Package index keeps the experiment and project records of every user.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cuongbtq/jobstatus/internal/domain"
)

// DefaultProjectDescription is given to projects created implicitly by a submission
const DefaultProjectDescription = "default"

// Config holds index configuration
type Config struct {
	Logger *slog.Logger
	Store  Store
	Now    func() time.Time
}

// Index is the experiment and project index
type Index struct {
	logger *slog.Logger
	store  Store
	now    func() time.Time
}

// JobCursor marks the last row of a listing page
type JobCursor struct {
	CreatedAt time.Time
	JobName   string
}

// JobFilter selects a page of a user's jobs
type JobFilter struct {
	PageSize       int
	Cursor         *JobCursor
	IncludeTrashed bool
	OnlyTrashed    bool
}

// New creates a new index
func New(cfg *Config) *Index {
	i := &Index{
		logger: cfg.Logger,
		store:  cfg.Store,
		now:    cfg.Now,
	}
	if i.logger == nil {
		i.logger = slog.Default()
	}
	if i.now == nil {
		i.now = time.Now
	}
	return i
}

// Register stores a new experiment, creating its project if needed, and
// references the job from the project. When the project steps fail the
// experiment record is dropped again, so a failed registration leaves no
// record behind.
func (i *Index) Register(ctx context.Context, exp *domain.Experiment) error {
	if err := i.store.InsertExperiment(ctx, exp); err != nil {
		return fmt.Errorf("failed to insert experiment %s: %w", exp.JobName, err)
	}

	if err := i.attach(ctx, exp); err != nil {
		if delErr := i.store.DeleteExperiment(ctx, exp.User, exp.JobName); delErr != nil {
			i.logger.Error("Failed to drop experiment of failed registration",
				slog.String("user", exp.User),
				slog.String("job", exp.JobName),
				slog.String("error", delErr.Error()),
			)
		}
		return err
	}
	return nil
}

func (i *Index) attach(ctx context.Context, exp *domain.Experiment) error {
	created, err := i.store.EnsureProject(ctx, &domain.Project{
		Name:        exp.Project,
		User:        exp.User,
		Description: DefaultProjectDescription,
		CreatedAt:   i.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to ensure project %s: %w", exp.Project, err)
	}
	if created {
		i.logger.Info("Project created",
			slog.String("user", exp.User),
			slog.String("project", exp.Project),
		)
	}

	return i.AddJobToProject(ctx, exp.User, exp.Project, domain.JobRef{
		JobName:   exp.JobName,
		ShareType: domain.SharePersonal,
		Modality:  exp.Modality,
	})
}

// AddJobToProject references the job from the project and increments its count.
func (i *Index) AddJobToProject(ctx context.Context, user, project string, ref domain.JobRef) error {
	if err := i.store.PushJobRef(ctx, user, project, ref); err != nil {
		return fmt.Errorf("failed to add job %s to project %s: %w", ref.JobName, project, err)
	}
	return nil
}

// RemoveJobFromProject drops the job reference and decrements the count.
func (i *Index) RemoveJobFromProject(ctx context.Context, user, project, jobName string) error {
	if err := i.store.PullJobRef(ctx, user, project, jobName); err != nil {
		return fmt.Errorf("failed to remove job %s from project %s: %w", jobName, project, err)
	}
	return nil
}

// Experiment returns the metadata record of a job.
func (i *Index) Experiment(ctx context.Context, user, jobName string) (*domain.Experiment, error) {
	return i.store.GetExperiment(ctx, user, jobName)
}

// Project returns a project record.
func (i *Index) Project(ctx context.Context, user, name string) (*domain.Project, error) {
	return i.store.GetProject(ctx, user, name)
}

// SetTrashed replaces the trash marker of a job.
func (i *Index) SetTrashed(ctx context.Context, user, jobName string, state domain.TrashState) error {
	return i.store.SetTrashed(ctx, user, jobName, state)
}

// Remove hides an experiment for good and drops it from its project. The
// record itself is kept.
func (i *Index) Remove(ctx context.Context, exp *domain.Experiment) error {
	if err := i.store.MarkRemoved(ctx, exp.User, exp.JobName); err != nil {
		return fmt.Errorf("failed to mark experiment %s removed: %w", exp.JobName, err)
	}
	return i.RemoveJobFromProject(ctx, exp.User, exp.Project, exp.JobName)
}

// RecentExperiments returns experiments created since the given time that
// belong to real users and are still visible.
func (i *Index) RecentExperiments(ctx context.Context, since time.Time) ([]*domain.Experiment, error) {
	exps, err := i.store.ListExperimentsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent experiments: %w", err)
	}

	out := exps[:0]
	for _, e := range exps {
		if e.IsPublic() || e.Removed {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Experiments returns every visible experiment of user, trashed or not.
func (i *Index) Experiments(ctx context.Context, user string) ([]*domain.Experiment, error) {
	exps, err := i.store.ListExperiments(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments of %s: %w", user, err)
	}

	out := exps[:0]
	for _, e := range exps {
		if !e.Removed {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListJobs joins every project of user into one listing ordered newest first.
// Removed jobs are never listed. The returned cursor is nil on the last page.
func (i *Index) ListJobs(ctx context.Context, user string, filter JobFilter) ([]domain.JobSummary, *JobCursor, error) {
	projects, err := i.store.ListProjects(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list projects of %s: %w", user, err)
	}

	exps, err := i.store.ListExperiments(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list experiments of %s: %w", user, err)
	}
	byName := make(map[string]*domain.Experiment, len(exps))
	for _, e := range exps {
		byName[e.JobName] = e
	}

	var rows []domain.JobSummary
	for _, p := range projects {
		for _, ref := range p.Jobs {
			exp, ok := byName[ref.JobName]
			if ok && exp.Removed {
				continue
			}

			row := summarize(p.Name, ref, exp)
			trashed := row.Trashed.IsTrashed()
			if (trashed && !filter.IncludeTrashed && !filter.OnlyTrashed) || (!trashed && filter.OnlyTrashed) {
				continue
			}
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(a, b int) bool {
		if !rows[a].CreatedAt.Equal(rows[b].CreatedAt) {
			return rows[a].CreatedAt.After(rows[b].CreatedAt)
		}
		return rows[a].JobName > rows[b].JobName
	})

	if filter.Cursor != nil {
		start := sort.Search(len(rows), func(n int) bool {
			return afterCursor(rows[n], filter.Cursor)
		})
		rows = rows[start:]
	}

	if filter.PageSize <= 0 || len(rows) <= filter.PageSize {
		return rows, nil, nil
	}

	page := rows[:filter.PageSize]
	last := page[len(page)-1]
	return page, &JobCursor{CreatedAt: last.CreatedAt, JobName: last.JobName}, nil
}

// afterCursor reports whether row sorts after the cursor position.
func afterCursor(row domain.JobSummary, c *JobCursor) bool {
	if !row.CreatedAt.Equal(c.CreatedAt) {
		return row.CreatedAt.Before(c.CreatedAt)
	}
	return row.JobName < c.JobName
}

func summarize(project string, ref domain.JobRef, exp *domain.Experiment) domain.JobSummary {
	row := domain.JobSummary{
		JobName:   ref.JobName,
		Name:      ref.JobName,
		Project:   project,
		ShareType: ref.ShareType,
		Modality:  ref.Modality,
	}
	if name, err := domain.ParseJobName(ref.JobName); err == nil {
		row.Name = name.Slug
		row.CreatedAt = name.CreatedAt
		row.Date = name.DisplayDate()
	}
	if exp != nil {
		row.Trashed = exp.Trashed
	}
	return row
}

// IsNotFound reports whether err means the experiment or project does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrExperimentNotFound) || errors.Is(err, domain.ErrProjectNotFound)
}

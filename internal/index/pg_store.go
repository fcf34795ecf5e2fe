package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/jobstatus/internal/domain"
	"github.com/cuongbtq/jobstatus/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// pgSchema creates the relational form of the Experiments and Projects collections
const pgSchema = `
CREATE TABLE IF NOT EXISTS experiments (
	job_name       TEXT        NOT NULL,
	user_name      TEXT        NOT NULL,
	nickname       TEXT        NOT NULL DEFAULT '',
	project        TEXT        NOT NULL DEFAULT '',
	modality       TEXT        NOT NULL DEFAULT '',
	tool           TEXT        NOT NULL DEFAULT '',
	contact_email  TEXT        NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	trashed_at     TIMESTAMPTZ NULL,
	legacy_trashed BOOLEAN     NOT NULL DEFAULT FALSE,
	removed        BOOLEAN     NOT NULL DEFAULT FALSE,
	PRIMARY KEY (user_name, job_name)
);

CREATE INDEX IF NOT EXISTS idx_experiments_created_at ON experiments (created_at);

CREATE TABLE IF NOT EXISTS projects (
	project_name    TEXT        NOT NULL,
	user_name       TEXT        NOT NULL,
	description     TEXT        NOT NULL DEFAULT '',
	num_experiments INTEGER     NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_name, project_name)
);

CREATE TABLE IF NOT EXISTS project_jobs (
	user_name    TEXT      NOT NULL,
	project_name TEXT      NOT NULL,
	job_name     TEXT      NOT NULL,
	share_type   TEXT      NOT NULL DEFAULT 'personal',
	modality     TEXT      NOT NULL DEFAULT '',
	position     BIGSERIAL,
	PRIMARY KEY (user_name, project_name, job_name),
	FOREIGN KEY (user_name, project_name) REFERENCES projects (user_name, project_name) ON DELETE CASCADE
);
`

const uniqueViolation = "23505"

type experimentRow struct {
	JobName       string       `db:"job_name"`
	User          string       `db:"user_name"`
	Nickname      string       `db:"nickname"`
	Project       string       `db:"project"`
	Modality      string       `db:"modality"`
	Tool          string       `db:"tool"`
	ContactEmail  string       `db:"contact_email"`
	CreatedAt     time.Time    `db:"created_at"`
	TrashedAt     sql.NullTime `db:"trashed_at"`
	LegacyTrashed bool         `db:"legacy_trashed"`
	Removed       bool         `db:"removed"`
}

type projectRow struct {
	Name           string    `db:"project_name"`
	User           string    `db:"user_name"`
	Description    string    `db:"description"`
	NumExperiments int       `db:"num_experiments"`
	CreatedAt      time.Time `db:"created_at"`
}

type jobRefRow struct {
	Project   string `db:"project_name"`
	JobName   string `db:"job_name"`
	ShareType string `db:"share_type"`
	Modality  string `db:"modality"`
}

const experimentColumns = `
	job_name, user_name, nickname, project, modality, tool,
	contact_email, created_at, trashed_at, legacy_trashed, removed
`

func (r *experimentRow) toDomain() *domain.Experiment {
	e := &domain.Experiment{
		JobName:      r.JobName,
		User:         r.User,
		Nickname:     r.Nickname,
		Project:      r.Project,
		Modality:     r.Modality,
		Tool:         r.Tool,
		ContactEmail: r.ContactEmail,
		CreatedAt:    r.CreatedAt.UTC(),
		Removed:      r.Removed,
	}
	if r.TrashedAt.Valid {
		e.Trashed.At = r.TrashedAt.Time.UTC()
	} else {
		e.Trashed.Legacy = r.LegacyTrashed
	}
	return e
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// PGStore keeps the index in PostgreSQL
type PGStore struct {
	db *sqlx.DB
}

var _ Store = (*PGStore)(nil)

// NewPGStore creates a store over an open PostgreSQL client
func NewPGStore(pg *postgresql.Client) *PGStore {
	return &PGStore{
		db: pg.GetDB(),
	}
}

// EnsureSchema creates the tables used by the store
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to create index schema: %w", err)
	}
	return nil
}

func (s *PGStore) InsertExperiment(ctx context.Context, exp *domain.Experiment) error {
	query := `
		INSERT INTO experiments (
			job_name, user_name, nickname, project, modality, tool,
			contact_email, created_at, trashed_at, legacy_trashed, removed
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		exp.JobName,
		exp.User,
		exp.Nickname,
		exp.Project,
		exp.Modality,
		exp.Tool,
		exp.ContactEmail,
		exp.CreatedAt.UTC(),
		nullTime(exp.Trashed.At),
		exp.Trashed.Legacy,
		exp.Removed,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrExperimentExists
		}
		return fmt.Errorf("failed to insert experiment: %w", err)
	}

	return nil
}

func (s *PGStore) GetExperiment(ctx context.Context, user, jobName string) (*domain.Experiment, error) {
	var row experimentRow
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE user_name = $1 AND job_name = $2`

	if err := s.db.GetContext(ctx, &row, query, user, jobName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrExperimentNotFound
		}
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return row.toDomain(), nil
}

func (s *PGStore) selectExperiments(ctx context.Context, where string, args ...interface{}) ([]*domain.Experiment, error) {
	var rows []experimentRow
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE ` + where + ` ORDER BY user_name, job_name`

	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}

	out := make([]*domain.Experiment, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *PGStore) ListExperiments(ctx context.Context, user string) ([]*domain.Experiment, error) {
	return s.selectExperiments(ctx, `user_name = $1`, user)
}

func (s *PGStore) ListExperimentsSince(ctx context.Context, since time.Time) ([]*domain.Experiment, error) {
	return s.selectExperiments(ctx, `created_at >= $1`, since.UTC())
}

func (s *PGStore) execExperiment(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrExperimentNotFound
	}
	return nil
}

func (s *PGStore) SetTrashed(ctx context.Context, user, jobName string, state domain.TrashState) error {
	return s.execExperiment(ctx, `
		UPDATE experiments
		   SET trashed_at = $3, legacy_trashed = $4
		 WHERE user_name = $1 AND job_name = $2
	`, user, jobName, nullTime(state.At), state.Legacy && state.At.IsZero())
}

func (s *PGStore) MarkRemoved(ctx context.Context, user, jobName string) error {
	return s.execExperiment(ctx, `
		UPDATE experiments SET removed = TRUE WHERE user_name = $1 AND job_name = $2
	`, user, jobName)
}

func (s *PGStore) DeleteExperiment(ctx context.Context, user, jobName string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM experiments WHERE user_name = $1 AND job_name = $2
	`, user, jobName); err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	return nil
}

func (s *PGStore) EnsureProject(ctx context.Context, project *domain.Project) (bool, error) {
	createdAt := project.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (project_name, user_name, description, num_experiments, created_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (user_name, project_name) DO NOTHING
	`, project.Name, project.User, project.Description, createdAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to ensure project: %w", err)
	}

	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *PGStore) GetProject(ctx context.Context, user, name string) (*domain.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row, `
		SELECT project_name, user_name, description, num_experiments, created_at
		  FROM projects
		 WHERE user_name = $1 AND project_name = $2
	`, user, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	projects, err := s.attachRefs(ctx, user, []projectRow{row}, `AND project_name = $2`, name)
	if err != nil {
		return nil, err
	}
	return projects[0], nil
}

func (s *PGStore) ListProjects(ctx context.Context, user string) ([]*domain.Project, error) {
	var rows []projectRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT project_name, user_name, description, num_experiments, created_at
		  FROM projects
		 WHERE user_name = $1
		 ORDER BY project_name
	`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	return s.attachRefs(ctx, user, rows, "")
}

func (s *PGStore) attachRefs(ctx context.Context, user string, rows []projectRow, extra string, args ...interface{}) ([]*domain.Project, error) {
	var refs []jobRefRow
	query := `
		SELECT project_name, job_name, share_type, modality
		  FROM project_jobs
		 WHERE user_name = $1 ` + extra + `
		 ORDER BY position
	`
	if err := s.db.SelectContext(ctx, &refs, query, append([]interface{}{user}, args...)...); err != nil {
		return nil, fmt.Errorf("failed to list job references: %w", err)
	}

	byProject := make(map[string][]domain.JobRef)
	for _, ref := range refs {
		byProject[ref.Project] = append(byProject[ref.Project], domain.JobRef{
			JobName:   ref.JobName,
			ShareType: ref.ShareType,
			Modality:  ref.Modality,
		})
	}

	out := make([]*domain.Project, 0, len(rows))
	for _, row := range rows {
		out = append(out, &domain.Project{
			Name:           row.Name,
			User:           row.User,
			Description:    row.Description,
			NumExperiments: row.NumExperiments,
			CreatedAt:      row.CreatedAt,
			Jobs:           byProject[row.Name],
		})
	}
	return out, nil
}

// PushJobRef inserts the reference and bumps the counter by the number of
// inserted rows in one statement.
func (s *PGStore) PushJobRef(ctx context.Context, user, project string, ref domain.JobRef) error {
	var count int
	err := s.db.GetContext(ctx, &count, `
		WITH ins AS (
			INSERT INTO project_jobs (user_name, project_name, job_name, share_type, modality)
			SELECT $1, $2, $3, $4, $5
			 WHERE EXISTS (SELECT 1 FROM projects WHERE user_name = $1 AND project_name = $2)
			ON CONFLICT DO NOTHING
			RETURNING 1
		)
		UPDATE projects
		   SET num_experiments = num_experiments + (SELECT count(*) FROM ins)
		 WHERE user_name = $1 AND project_name = $2
		RETURNING num_experiments
	`, user, project, ref.JobName, ref.ShareType, ref.Modality)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrProjectNotFound
		}
		return fmt.Errorf("failed to push job reference: %w", err)
	}
	return nil
}

// PullJobRef deletes the reference and lowers the counter by the number of
// deleted rows in one statement.
func (s *PGStore) PullJobRef(ctx context.Context, user, project, jobName string) error {
	_, err := s.db.ExecContext(ctx, `
		WITH del AS (
			DELETE FROM project_jobs
			 WHERE user_name = $1 AND project_name = $2 AND job_name = $3
			RETURNING 1
		)
		UPDATE projects
		   SET num_experiments = num_experiments - (SELECT count(*) FROM del)
		 WHERE user_name = $1 AND project_name = $2
	`, user, project, jobName)
	if err != nil {
		return fmt.Errorf("failed to pull job reference: %w", err)
	}
	return nil
}

package index

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/jobstatus/internal/domain"
)

// MemoryStore keeps the index in process memory. One mutex serializes all
// operations.
type MemoryStore struct {
	mu          sync.Mutex
	experiments map[string]*domain.Experiment
	projects    map[string]*domain.Project
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]*domain.Experiment),
		projects:    make(map[string]*domain.Project),
	}
}

func key(user, name string) string {
	return user + "\x00" + name
}

func copyExperiment(e *domain.Experiment) *domain.Experiment {
	c := *e
	return &c
}

func copyProject(p *domain.Project) *domain.Project {
	c := *p
	c.Jobs = append([]domain.JobRef(nil), p.Jobs...)
	return &c
}

func (s *MemoryStore) InsertExperiment(_ context.Context, exp *domain.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(exp.User, exp.JobName)
	if _, ok := s.experiments[k]; ok {
		return domain.ErrExperimentExists
	}
	s.experiments[k] = copyExperiment(exp)
	return nil
}

func (s *MemoryStore) GetExperiment(_ context.Context, user, jobName string) (*domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.experiments[key(user, jobName)]
	if !ok {
		return nil, domain.ErrExperimentNotFound
	}
	return copyExperiment(e), nil
}

func (s *MemoryStore) ListExperiments(_ context.Context, user string) ([]*domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Experiment
	for _, e := range s.experiments {
		if e.User == user {
			out = append(out, copyExperiment(e))
		}
	}
	sortExperiments(out)
	return out, nil
}

func (s *MemoryStore) ListExperimentsSince(_ context.Context, since time.Time) ([]*domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Experiment
	for _, e := range s.experiments {
		if !e.CreatedAt.Before(since) {
			out = append(out, copyExperiment(e))
		}
	}
	sortExperiments(out)
	return out, nil
}

func sortExperiments(exps []*domain.Experiment) {
	sort.Slice(exps, func(i, j int) bool {
		if exps[i].User != exps[j].User {
			return exps[i].User < exps[j].User
		}
		return exps[i].JobName < exps[j].JobName
	})
}

func (s *MemoryStore) SetTrashed(_ context.Context, user, jobName string, state domain.TrashState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.experiments[key(user, jobName)]
	if !ok {
		return domain.ErrExperimentNotFound
	}
	e.Trashed = state
	return nil
}

func (s *MemoryStore) MarkRemoved(_ context.Context, user, jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.experiments[key(user, jobName)]
	if !ok {
		return domain.ErrExperimentNotFound
	}
	e.Removed = true
	return nil
}

func (s *MemoryStore) DeleteExperiment(_ context.Context, user, jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.experiments, key(user, jobName))
	return nil
}

func (s *MemoryStore) EnsureProject(_ context.Context, project *domain.Project) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(project.User, project.Name)
	if _, ok := s.projects[k]; ok {
		return false, nil
	}
	p := copyProject(project)
	p.Jobs = nil
	p.NumExperiments = 0
	s.projects[k] = p
	return true, nil
}

func (s *MemoryStore) GetProject(_ context.Context, user, name string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[key(user, name)]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	return copyProject(p), nil
}

func (s *MemoryStore) ListProjects(_ context.Context, user string) ([]*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Project
	for _, p := range s.projects {
		if p.User == user {
			out = append(out, copyProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) PushJobRef(_ context.Context, user, project string, ref domain.JobRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[key(user, project)]
	if !ok {
		return domain.ErrProjectNotFound
	}
	if p.HasJob(ref.JobName) {
		return nil
	}
	p.Jobs = append(p.Jobs, ref)
	p.NumExperiments++
	return nil
}

func (s *MemoryStore) PullJobRef(_ context.Context, user, project, jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[key(user, project)]
	if !ok {
		return nil
	}
	for i, ref := range p.Jobs {
		if ref.JobName == jobName {
			p.Jobs = append(p.Jobs[:i:i], p.Jobs[i+1:]...)
			p.NumExperiments--
			return nil
		}
	}
	return nil
}

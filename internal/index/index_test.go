package index

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/jobstatus/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestIndex(t *testing.T) (*Index, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return New(&Config{Store: store, Now: func() time.Time { return base }}), store
}

func experiment(user, project, nickname string, at time.Time) *domain.Experiment {
	return &domain.Experiment{
		JobName:      domain.NewJobName(nickname, at),
		User:         user,
		Nickname:     nickname,
		Project:      project,
		Modality:     "scrna",
		ContactEmail: user + "@example.org",
		CreatedAt:    at,
	}
}

func TestIndex_Register(t *testing.T) {
	idx, store := newTestIndex(t)
	ctx := context.Background()
	exp := experiment("alice", "brain", "run", base)

	require.NoError(t, idx.Register(ctx, exp))

	project, err := store.GetProject(ctx, "alice", "brain")
	require.NoError(t, err)
	assert.Equal(t, DefaultProjectDescription, project.Description)
	assert.Equal(t, 1, project.NumExperiments)
	assert.Equal(t, []domain.JobRef{{JobName: exp.JobName, ShareType: domain.SharePersonal, Modality: "scrna"}}, project.Jobs)

	got, err := idx.Experiment(ctx, "alice", exp.JobName)
	require.NoError(t, err)
	assert.Equal(t, exp.ContactEmail, got.ContactEmail)

	err = idx.Register(ctx, exp)
	assert.ErrorIs(t, err, domain.ErrExperimentExists)
}

func TestIndex_AddThenRemoveKeepsProjectUnchanged(t *testing.T) {
	idx, store := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Register(ctx, experiment("alice", "brain", "first", base)))

	before, err := store.GetProject(ctx, "alice", "brain")
	require.NoError(t, err)

	ref := domain.JobRef{JobName: "second-2024-05-02-00-00-00", ShareType: domain.SharePersonal}
	require.NoError(t, idx.AddJobToProject(ctx, "alice", "brain", ref))
	require.NoError(t, idx.RemoveJobFromProject(ctx, "alice", "brain", ref.JobName))

	after, err := store.GetProject(ctx, "alice", "brain")
	require.NoError(t, err)
	assert.Equal(t, before.NumExperiments, after.NumExperiments)
	assert.Len(t, after.Jobs, len(before.Jobs))
}

func TestIndex_PushAndPullAreGuarded(t *testing.T) {
	idx, store := newTestIndex(t)
	ctx := context.Background()
	exp := experiment("alice", "brain", "run", base)
	require.NoError(t, idx.Register(ctx, exp))

	// pushing a present reference is a no-op
	require.NoError(t, idx.AddJobToProject(ctx, "alice", "brain", domain.JobRef{JobName: exp.JobName}))
	// pulling an absent reference is a no-op
	require.NoError(t, idx.RemoveJobFromProject(ctx, "alice", "brain", "missing-2024-01-01-00-00-00"))

	project, err := store.GetProject(ctx, "alice", "brain")
	require.NoError(t, err)
	assert.Equal(t, 1, project.NumExperiments)
	assert.Len(t, project.Jobs, 1)

	err = idx.AddJobToProject(ctx, "alice", "nope", domain.JobRef{JobName: exp.JobName})
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)
	assert.True(t, IsNotFound(err))
}

func TestIndex_ConcurrentAddsKeepCountInSync(t *testing.T) {
	idx, store := newTestIndex(t)
	ctx := context.Background()
	_, err := store.EnsureProject(ctx, &domain.Project{Name: "brain", User: "alice"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for n := 0; n < 50; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ref := domain.JobRef{JobName: fmt.Sprintf("job%d-2024-05-01-00-00-00", n%25)}
			assert.NoError(t, idx.AddJobToProject(ctx, "alice", "brain", ref))
		}(n)
	}
	wg.Wait()

	project, err := store.GetProject(ctx, "alice", "brain")
	require.NoError(t, err)
	assert.Equal(t, 25, project.NumExperiments)
	assert.Len(t, project.Jobs, 25)
}

func TestIndex_Remove(t *testing.T) {
	idx, store := newTestIndex(t)
	ctx := context.Background()
	exp := experiment("alice", "brain", "run", base)
	require.NoError(t, idx.Register(ctx, exp))

	require.NoError(t, idx.Remove(ctx, exp))

	got, err := store.GetExperiment(ctx, "alice", exp.JobName)
	require.NoError(t, err)
	assert.True(t, got.Removed)

	project, err := store.GetProject(ctx, "alice", "brain")
	require.NoError(t, err)
	assert.False(t, project.HasJob(exp.JobName))
	assert.Equal(t, 0, project.NumExperiments)
}

func TestIndex_ListJobs(t *testing.T) {
	idx, store := newTestIndex(t)
	ctx := context.Background()

	old := experiment("alice", "brain", "old", base.Add(-48*time.Hour))
	mid := experiment("alice", "liver", "mid", base.Add(-24*time.Hour))
	twinA := experiment("alice", "brain", "a", base)
	twinB := experiment("alice", "liver", "b", base)
	trashed := experiment("alice", "brain", "trashed", base.Add(-time.Hour))
	removed := experiment("alice", "brain", "removed", base.Add(-2*time.Hour))
	other := experiment("bob", "brain", "other", base)

	for _, e := range []*domain.Experiment{old, mid, twinA, twinB, trashed, removed, other} {
		require.NoError(t, idx.Register(ctx, e))
	}
	require.NoError(t, store.SetTrashed(ctx, "alice", trashed.JobName, domain.TrashState{At: base}))
	require.NoError(t, store.MarkRemoved(ctx, "alice", removed.JobName))

	rows, cursor, err := idx.ListJobs(ctx, "alice", JobFilter{})
	require.NoError(t, err)
	assert.Nil(t, cursor)

	var names []string
	for _, r := range rows {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"b", "a", "mid", "old"}, names)
	assert.Equal(t, "2024-04-29", rows[3].Date)
	assert.Equal(t, "liver", rows[0].Project)

	trashView, _, err := idx.ListJobs(ctx, "alice", JobFilter{OnlyTrashed: true})
	require.NoError(t, err)
	require.Len(t, trashView, 1)
	assert.Equal(t, trashed.JobName, trashView[0].JobName)

	all, _, err := idx.ListJobs(ctx, "alice", JobFilter{IncludeTrashed: true})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestIndex_ListJobsPagination(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()
	for n := 0; n < 5; n++ {
		require.NoError(t, idx.Register(ctx, experiment("alice", "brain", fmt.Sprintf("job%d", n), base.Add(time.Duration(n)*time.Minute))))
	}

	var seen []string
	var cursor *JobCursor
	for pages := 0; pages < 10; pages++ {
		rows, next, err := idx.ListJobs(ctx, "alice", JobFilter{PageSize: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, r := range rows {
			seen = append(seen, r.Name)
		}
		if next == nil {
			break
		}
		cursor = next
	}

	assert.Equal(t, []string{"job4", "job3", "job2", "job1", "job0"}, seen)
}

func TestIndex_RecentExperiments(t *testing.T) {
	idx, store := newTestIndex(t)
	ctx := context.Background()

	recent := experiment("alice", "brain", "recent", base)
	stale := experiment("alice", "brain", "stale", base.AddDate(0, 0, -40))
	public := experiment(domain.PublicUser, "shared", "public", base)
	removed := experiment("alice", "brain", "removed", base)
	for _, e := range []*domain.Experiment{recent, stale, public, removed} {
		require.NoError(t, idx.Register(ctx, e))
	}
	require.NoError(t, store.MarkRemoved(ctx, "alice", removed.JobName))

	exps, err := idx.RecentExperiments(ctx, base.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, recent.JobName, exps[0].JobName)
}

type failingRefStore struct {
	*MemoryStore
	pushErr    error
	projectErr error
}

func (s *failingRefStore) PushJobRef(ctx context.Context, user, project string, ref domain.JobRef) error {
	if s.pushErr != nil {
		return s.pushErr
	}
	return s.MemoryStore.PushJobRef(ctx, user, project, ref)
}

func (s *failingRefStore) EnsureProject(ctx context.Context, project *domain.Project) (bool, error) {
	if s.projectErr != nil {
		return false, s.projectErr
	}
	return s.MemoryStore.EnsureProject(ctx, project)
}

func TestIndex_RegisterFailureLeavesNoRecord(t *testing.T) {
	tests := []struct {
		name  string
		store *failingRefStore
	}{
		{name: "project ref fails", store: &failingRefStore{MemoryStore: NewMemoryStore(), pushErr: fmt.Errorf("write conflict")}},
		{name: "project upsert fails", store: &failingRefStore{MemoryStore: NewMemoryStore(), projectErr: fmt.Errorf("write conflict")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := New(&Config{Store: tt.store, Now: func() time.Time { return base }})
			ctx := context.Background()
			exp := experiment("alice", "brain", "run", base)

			err := idx.Register(ctx, exp)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "write conflict")

			_, err = idx.Experiment(ctx, "alice", exp.JobName)
			assert.ErrorIs(t, err, domain.ErrExperimentNotFound)

			recent, err := idx.RecentExperiments(ctx, base.Add(-time.Hour))
			require.NoError(t, err)
			assert.Empty(t, recent)

			// the name is free again once the store recovers
			tt.store.pushErr, tt.store.projectErr = nil, nil
			require.NoError(t, idx.Register(ctx, exp))
		})
	}
}

func TestIndex_RegisterDuplicateKeepsOriginal(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()
	exp := experiment("alice", "brain", "run", base)
	require.NoError(t, idx.Register(ctx, exp))

	dup := *exp
	dup.ContactEmail = "other@example.org"
	require.ErrorIs(t, idx.Register(ctx, &dup), domain.ErrExperimentExists)

	got, err := idx.Experiment(ctx, "alice", exp.JobName)
	require.NoError(t, err)
	assert.Equal(t, exp.ContactEmail, got.ContactEmail)
}

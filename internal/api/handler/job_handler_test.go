package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/jobstatus/internal/api/dto"
	"github.com/cuongbtq/jobstatus/internal/channel"
	"github.com/cuongbtq/jobstatus/internal/domain"
	"github.com/cuongbtq/jobstatus/internal/index"
	"github.com/cuongbtq/jobstatus/internal/jobstatus"
	"github.com/cuongbtq/jobstatus/internal/submission"
	"github.com/cuongbtq/jobstatus/internal/trash"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	engine    *gin.Engine
	transport *channel.MemoryTransport
	channels  *channel.Manager
	clock     *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := &clock{now: time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)}
	idx := index.New(&index.Config{Store: index.NewMemoryStore(), Now: clk.Now})
	transport := channel.NewMemoryTransport(clk.Now)
	channels := channel.NewManager(&channel.Config{Transport: transport})

	h := NewJobHandler(&Dependencies{
		Logger:    testLogger(),
		Submitter: submission.NewService(&submission.Config{Channels: channels, Index: idx, Now: clk.Now}),
		Index:     idx,
		Statuses:  jobstatus.NewReader(&jobstatus.Config{Channels: channels, Now: clk.Now}),
		Trash:     trash.NewPolicy(&trash.Config{Index: idx, Channels: channels, Now: clk.Now}),
	})

	r := gin.New()
	r.POST("/jobs", h.SubmitJob)
	r.GET("/users/:user/jobs", h.ListJobs)
	r.GET("/users/:user/jobs/:job", h.GetJob)
	r.GET("/users/:user/jobs/:job/status", h.GetJobStatus)
	r.POST("/users/:user/jobs/:job/trash", h.TrashJob)
	r.POST("/users/:user/jobs/:job/restore", h.RestoreJob)
	r.GET("/users/:user/trash", h.ViewTrash)

	return &fixture{engine: r, transport: transport, channels: channels, clock: clk}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) submit(t *testing.T, nickname string) dto.ExperimentDTO {
	t.Helper()
	w := f.do(t, http.MethodPost, "/jobs", dto.SubmitJobRequest{
		User:         "alice",
		Nickname:     nickname,
		Project:      "atlas",
		Modality:     "scRNA",
		ContactEmail: "alice@example.org",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var exp dto.ExperimentDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exp))
	return exp
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSubmitJob(t *testing.T) {
	f := newFixture(t)

	exp := f.submit(t, "Liver Atlas")
	assert.Equal(t, "liver-atlas-2024-05-01-12-30-45", exp.JobName)
	assert.Equal(t, "alice", exp.User)
	assert.Equal(t, "2024-05-01T12:30:45Z", exp.CreatedAt)
	assert.False(t, exp.Trashed)
	assert.True(t, f.transport.Exists(domain.ChannelName(exp.JobName)))
}

func TestSubmitJob_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		createErr  error
		wantStatus int
	}{
		{
			name:       "missing project",
			body:       gin.H{"user": "alice", "nickname": "run"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid email",
			body:       gin.H{"user": "alice", "nickname": "run", "project": "p", "contact_email": "nope"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "blank nickname",
			body:       gin.H{"user": "alice", "nickname": "   ", "project": "p"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "channel unavailable",
			body:       gin.H{"user": "alice", "nickname": "run", "project": "p"},
			createErr:  errors.New("connection refused"),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.transport.Fail(channel.OpCreate, tt.createErr)

			w := f.do(t, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			list := decode[dto.ListJobsResponse](t, f.do(t, http.MethodGet, "/users/alice/jobs", nil))
			assert.Empty(t, list.Jobs)
		})
	}
}

func TestListJobs_Pagination(t *testing.T) {
	f := newFixture(t)
	first := f.submit(t, "one")
	f.clock.Advance(time.Minute)
	second := f.submit(t, "two")
	f.clock.Advance(time.Minute)
	third := f.submit(t, "three")

	w := f.do(t, http.MethodGet, "/users/alice/jobs?page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[dto.ListJobsResponse](t, w)
	require.Len(t, page.Jobs, 2)
	assert.Equal(t, third.JobName, page.Jobs[0].JobName)
	assert.Equal(t, second.JobName, page.Jobs[1].JobName)
	assert.Equal(t, "two", page.Jobs[1].Name)
	assert.Equal(t, "atlas", page.Jobs[1].Project)
	assert.Equal(t, domain.SharePersonal, page.Jobs[1].ShareType)
	require.NotEmpty(t, page.NextCursor)

	w = f.do(t, http.MethodGet, "/users/alice/jobs?page_size=2&cursor="+page.NextCursor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[dto.ListJobsResponse](t, w)
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, first.JobName, page.Jobs[0].JobName)
	assert.Empty(t, page.NextCursor)
}

func TestListJobs_BadQuery(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		query string
	}{
		{name: "bad cursor", query: "cursor=***"},
		{name: "bad trashed filter", query: "trashed=sometimes"},
		{name: "non-numeric page size", query: "page_size=ten"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/users/alice/jobs?"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestGetJob(t *testing.T) {
	f := newFixture(t)
	exp := f.submit(t, "run")

	w := f.do(t, http.MethodGet, "/users/alice/jobs/"+exp.JobName, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, exp, decode[dto.ExperimentDTO](t, w))

	w = f.do(t, http.MethodGet, "/users/alice/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/users/bob/jobs/"+exp.JobName, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJobStatus(t *testing.T) {
	f := newFixture(t)
	exp := f.submit(t, "run")

	w := f.do(t, http.MethodGet, "/users/alice/jobs/"+exp.JobName+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[dto.JobStatusDTO](t, w)
	assert.Equal(t, exp.JobName, st.JobName)
	assert.Equal(t, string(domain.CodeQueued), st.Code)
	assert.Equal(t, "Queued.", st.Status)
	assert.Equal(t, "05-01-24 12:30:45", st.Updated)
	assert.False(t, st.Notified)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.channels.Send(t.Context(), exp.JobName, domain.Status{Code: domain.CodeRunning, Detail: "Aligning reads"}))

	st = decode[dto.JobStatusDTO](t, f.do(t, http.MethodGet, "/users/alice/jobs/"+exp.JobName+"/status", nil))
	assert.Equal(t, string(domain.CodeRunning), st.Code)
	assert.Equal(t, "Aligning reads", st.Status)
	assert.Equal(t, "05-01-24 12:31:45", st.Updated)

	w = f.do(t, http.MethodGet, "/users/alice/jobs/missing/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJobStatus_MissingChannelIsPending(t *testing.T) {
	f := newFixture(t)
	exp := f.submit(t, "run")
	require.NoError(t, f.channels.Delete(t.Context(), exp.JobName))

	st := decode[dto.JobStatusDTO](t, f.do(t, http.MethodGet, "/users/alice/jobs/"+exp.JobName+"/status", nil))
	assert.Equal(t, string(domain.CodePending), st.Code)
}

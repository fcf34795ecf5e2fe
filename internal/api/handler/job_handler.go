package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/jobstatus/internal/api/dto"
	"github.com/cuongbtq/jobstatus/internal/channel"
	"github.com/cuongbtq/jobstatus/internal/domain"
	"github.com/cuongbtq/jobstatus/internal/index"
	"github.com/cuongbtq/jobstatus/internal/submission"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SubmitJob handles POST /api/v1/jobs
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	exp, err := h.submitter.Submit(c.Request.Context(), submission.Request{
		User:         req.User,
		Nickname:     req.Nickname,
		Project:      req.Project,
		Modality:     req.Modality,
		Tool:         req.Tool,
		ContactEmail: req.ContactEmail,
	})
	if err != nil {
		var creationErr *channel.CreationError
		switch {
		case errors.Is(err, submission.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.As(err, &creationErr):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job channel could not be created"})
		case errors.Is(err, domain.ErrExperimentExists):
			c.JSON(http.StatusConflict, gin.H{"error": "Job already exists"})
		default:
			h.logger.Error("Failed to submit job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit job"})
		}
		return
	}

	c.JSON(http.StatusCreated, toExperimentDTO(exp))
}

// ListJobs handles GET /api/v1/users/:user/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	user := c.Param("user")

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := index.JobFilter{
		PageSize: req.PageSize,
		Cursor:   cursor,
	}
	switch req.Trashed {
	case "", "exclude":
	case "include":
		filter.IncludeTrashed = true
	case "only":
		filter.OnlyTrashed = true
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "trashed must be one of exclude, include, only",
		})
		return
	}

	rows, next, err := h.index.ListJobs(c.Request.Context(), user, filter)
	if err != nil {
		h.logger.Error("Failed to list jobs",
			slog.String("user", user),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobSummaryDTO, 0, len(rows))}
	for _, row := range rows {
		resp.Jobs = append(resp.Jobs, dto.JobSummaryDTO{
			JobName:   row.JobName,
			Name:      row.Name,
			Project:   row.Project,
			Date:      row.Date,
			ShareType: row.ShareType,
			Modality:  row.Modality,
			Trashed:   row.Trashed.IsTrashed(),
		})
	}
	if next != nil {
		resp.NextCursor = EncodeJobCursor(next)
	}

	c.JSON(http.StatusOK, resp)
}

// GetJob handles GET /api/v1/users/:user/jobs/:job
func (h *JobHandler) GetJob(c *gin.Context) {
	exp, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toExperimentDTO(exp))
}

// GetJobStatus handles GET /api/v1/users/:user/jobs/:job/status
func (h *JobHandler) GetJobStatus(c *gin.Context) {
	exp, ok := h.lookup(c)
	if !ok {
		return
	}

	result := h.statuses.Read(c.Request.Context(), exp.JobName)
	c.JSON(http.StatusOK, dto.JobStatusDTO{
		JobName:  exp.JobName,
		Code:     string(result.Status.Code),
		Status:   result.Label(),
		Progress: result.Progress,
		Updated:  result.Updated,
		Notified: result.Status.Notified,
	})
}

// lookup loads the job named in the path and writes the error response when
// it is missing or evicted.
func (h *JobHandler) lookup(c *gin.Context) (*domain.Experiment, bool) {
	user := c.Param("user")
	jobName := c.Param("job")

	exp, err := h.index.Experiment(c.Request.Context(), user, jobName)
	if err != nil {
		if index.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return nil, false
		}
		h.logger.Error("Failed to get job",
			slog.String("user", user),
			slog.String("job", jobName),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return nil, false
	}
	if exp.Removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return nil, false
	}
	return exp, true
}

func toExperimentDTO(exp *domain.Experiment) dto.ExperimentDTO {
	out := dto.ExperimentDTO{
		JobName:      exp.JobName,
		User:         exp.User,
		Nickname:     exp.Nickname,
		Project:      exp.Project,
		Modality:     exp.Modality,
		Tool:         exp.Tool,
		ContactEmail: exp.ContactEmail,
		CreatedAt:    exp.CreatedAt.Format(time.RFC3339),
		Trashed:      exp.Trashed.IsTrashed(),
	}
	if !exp.Trashed.At.IsZero() {
		out.TrashedAt = exp.Trashed.At.Format(time.RFC3339)
	}
	return out
}

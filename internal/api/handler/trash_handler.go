package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/jobstatus/internal/api/dto"
	"github.com/cuongbtq/jobstatus/internal/domain"
	"github.com/cuongbtq/jobstatus/internal/index"
	"github.com/gin-gonic/gin"
)

// TrashJob handles POST /api/v1/users/:user/jobs/:job/trash
func (h *JobHandler) TrashJob(c *gin.Context) {
	exp, err := h.trash.Trash(c.Request.Context(), c.Param("user"), c.Param("job"))
	if err != nil {
		h.trashError(c, "trash", err)
		return
	}
	c.JSON(http.StatusOK, toExperimentDTO(exp))
}

// RestoreJob handles POST /api/v1/users/:user/jobs/:job/restore
func (h *JobHandler) RestoreJob(c *gin.Context) {
	exp, err := h.trash.Restore(c.Request.Context(), c.Param("user"), c.Param("job"))
	if err != nil {
		h.trashError(c, "restore", err)
		return
	}
	c.JSON(http.StatusOK, toExperimentDTO(exp))
}

// ViewTrash handles GET /api/v1/users/:user/trash. Reading the trash evicts
// jobs whose retention window has passed.
func (h *JobHandler) ViewTrash(c *gin.Context) {
	user := c.Param("user")

	entries, err := h.trash.View(c.Request.Context(), user)
	if err != nil {
		h.logger.Error("Failed to read trash",
			slog.String("user", user),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read trash"})
		return
	}

	resp := dto.TrashViewResponse{Jobs: make([]dto.TrashEntryDTO, 0, len(entries))}
	for _, e := range entries {
		resp.Jobs = append(resp.Jobs, dto.TrashEntryDTO{
			JobName:   e.JobName,
			Name:      e.Name,
			Project:   e.Project,
			Date:      e.Date,
			Modality:  e.Modality,
			TrashedAt: e.TrashedAt.Format(time.RFC3339),
			ExpiresAt: e.ExpiresAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) trashError(c *gin.Context, op string, err error) {
	switch {
	case index.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, domain.ErrAlreadyRemoved):
		c.JSON(http.StatusGone, gin.H{"error": "Job was removed from the trash"})
	case errors.Is(err, domain.ErrNotTrashed):
		c.JSON(http.StatusConflict, gin.H{"error": "Job is not in the trash"})
	default:
		h.logger.Error("Trash operation failed",
			slog.String("op", op),
			slog.String("job", c.Param("job")),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + op + " job"})
	}
}

package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/jobstatus/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps.HealthChecks))

	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/jobs", jobHandler.SubmitJob)

		users := v1.Group("/users/:user")
		{
			users.GET("/jobs", jobHandler.ListJobs)
			users.GET("/jobs/:job", jobHandler.GetJob)
			users.GET("/jobs/:job/status", jobHandler.GetJobStatus)
			users.POST("/jobs/:job/trash", jobHandler.TrashJob)
			users.POST("/jobs/:job/restore", jobHandler.RestoreJob)
			users.GET("/trash", jobHandler.ViewTrash)
		}
	}

	return r
}

func healthHandler(checks map[string]func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		components := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				components[name] = err.Error()
				continue
			}
			components[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":     state,
			"service":    "jobstatus-api",
			"components": components,
		})
	}
}

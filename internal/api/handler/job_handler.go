package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/content-publisher/internal/api/dto"
	"github.com/cuongbtq/content-publisher/internal/dispatch"
	"github.com/cuongbtq/content-publisher/internal/domain"
)

// SubmitJob handles POST /jobs/:job_class
// Admits a publish job or rejects it immediately when the class queue is full
func (h *Handler) SubmitJob(c *gin.Context) {
	jobClass := c.Param("job_class")

	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			h.writeError(c, domain.NewValidationError("body", "request body is required"))
			return
		}
		h.writeError(c, domain.NewValidationError("body", err.Error()))
		return
	}

	accepted, err := h.dispatcher.Submit(&dispatch.Submission{
		JobClass:    jobClass,
		ContentKeys: req.Keys(),
		Payload:     req.Payload,
	})
	if err != nil {
		h.logger.Warn("Job submission refused",
			slog.String("job_class", jobClass),
			slog.String("error", err.Error()),
		)
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		TaskID:      accepted.TaskID,
		Status:      accepted.Status,
		JobClass:    accepted.JobClass,
		ContentKeys: accepted.ContentKeys,
	})
}

// ListJobClasses handles GET /jobs
func (h *Handler) ListJobClasses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"job_classes": h.dispatcher.Classes(),
	})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("Health check failed",
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": h.serviceName,
			"error":   "idempotency store unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.serviceName,
		"tasks":   h.registry.Counts(),
	})
}

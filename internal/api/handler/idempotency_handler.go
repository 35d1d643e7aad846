package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/content-publisher/internal/api/dto"
	"github.com/cuongbtq/content-publisher/internal/domain"
)

// requireClass resolves :job_class and writes a 404 for unknown classes
func (h *Handler) requireClass(c *gin.Context) (string, bool) {
	jobClass := c.Param("job_class")
	if !h.dispatcher.HasClass(jobClass) {
		h.writeError(c, fmt.Errorf("%w: %s", domain.ErrUnknownJobClass, jobClass))
		return "", false
	}
	return jobClass, true
}

// IdempotencyStats handles GET /jobs/:job_class/idempotency/stats
func (h *Handler) IdempotencyStats(c *gin.Context) {
	jobClass, ok := h.requireClass(c)
	if !ok {
		return
	}

	stats, err := h.store.Stats(c.Request.Context(), jobClass)
	if err != nil {
		h.writeError(c, fmt.Errorf("failed to load idempotency stats: %w", err))
		return
	}
	c.JSON(http.StatusOK, stats)
}

// IdempotencyCheck handles GET /jobs/:job_class/idempotency/check?content_key=
func (h *Handler) IdempotencyCheck(c *gin.Context) {
	jobClass, ok := h.requireClass(c)
	if !ok {
		return
	}

	key := strings.TrimSpace(c.Query("content_key"))
	if key == "" {
		h.writeError(c, domain.NewValidationError("content_key", "query parameter is required"))
		return
	}

	processed, err := h.store.IsProcessed(c.Request.Context(), key, jobClass)
	if err != nil {
		h.writeError(c, fmt.Errorf("failed to check idempotency: %w", err))
		return
	}

	c.JSON(http.StatusOK, dto.IdempotencyCheckResponse{
		ContentKey: key,
		JobClass:   jobClass,
		Processed:  processed,
	})
}

// IdempotencyRecords handles GET /jobs/:job_class/idempotency/records
func (h *Handler) IdempotencyRecords(c *gin.Context) {
	jobClass, ok := h.requireClass(c)
	if !ok {
		return
	}

	records, err := h.store.ListProcessed(c.Request.Context(), jobClass)
	if err != nil {
		h.writeError(c, fmt.Errorf("failed to list idempotency records: %w", err))
		return
	}

	c.JSON(http.StatusOK, dto.IdempotencyRecordsResponse{
		JobClass: jobClass,
		Total:    len(records),
		Records:  records,
	})
}

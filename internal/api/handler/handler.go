package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/content-publisher/internal/dispatch"
	"github.com/cuongbtq/content-publisher/internal/domain"
	"github.com/cuongbtq/content-publisher/internal/idempotency"
	"github.com/cuongbtq/content-publisher/internal/registry"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	ServiceName string
	Dispatcher  *dispatch.Dispatcher
	Registry    *registry.Registry
	Store       idempotency.Store
}

// Handler serves the job, task and idempotency endpoints
type Handler struct {
	logger      *slog.Logger
	serviceName string
	dispatcher  *dispatch.Dispatcher
	registry    *registry.Registry
	store       idempotency.Store
}

// NewHandler creates a new Handler instance
func NewHandler(deps *Dependencies) *Handler {
	name := deps.ServiceName
	if name == "" {
		name = "publish-service"
	}
	return &Handler{
		logger:      deps.Logger,
		serviceName: name,
		dispatcher:  deps.Dispatcher,
		registry:    deps.Registry,
		store:       deps.Store,
	}
}

// writeError maps domain errors to HTTP responses
func (h *Handler) writeError(c *gin.Context, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
	case errors.Is(err, domain.ErrUnknownJobClass):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, domain.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/content-publisher/internal/api/dto"
	"github.com/cuongbtq/content-publisher/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GetTask handles GET /tasks/:task_id
func (h *Handler) GetTask(c *gin.Context) {
	rec, ok := h.registry.Get(c.Param("task_id"))
	if !ok {
		h.writeError(c, domain.ErrTaskNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetTaskLogs handles GET /tasks/:task_id/logs
func (h *Handler) GetTaskLogs(c *gin.Context) {
	rec, ok := h.registry.Get(c.Param("task_id"))
	if !ok {
		h.writeError(c, domain.ErrTaskNotFound)
		return
	}

	logs := rec.Logs
	if logs == nil {
		logs = []domain.LogEntry{}
	}
	c.JSON(http.StatusOK, dto.TaskLogsResponse{
		TaskID: rec.TaskID,
		Status: rec.Status,
		Logs:   logs,
	})
}

// ListTasks handles GET /tasks
// Lists tasks newest first with optional status/job_class filters and cursor pagination
func (h *Handler) ListTasks(c *gin.Context) {
	var req dto.ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.writeError(c, domain.NewValidationError("query", err.Error()))
		return
	}

	if req.Status != "" && !domain.Status(req.Status).IsValid() {
		h.writeError(c, domain.NewValidationError("status", "unknown status "+req.Status))
		return
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeTaskCursor(req.Cursor)
	if err != nil {
		h.writeError(c, domain.NewValidationError("cursor", "invalid cursor"))
		return
	}

	tasks := make([]dto.TaskDTO, 0, req.PageSize)
	var nextCursor string
	var lastCreated time.Time
	for _, rec := range h.registry.ListAll() {
		if req.Status != "" && string(rec.Status) != req.Status {
			continue
		}
		if req.JobClass != "" && rec.JobClass != req.JobClass {
			continue
		}
		if cursor != nil && !cursor.After(&rec) {
			continue
		}

		if len(tasks) == req.PageSize {
			last := tasks[len(tasks)-1]
			nextCursor = EncodeTaskCursor(&TaskCursor{CreatedAt: lastCreated, TaskID: last.TaskID})
			break
		}
		tasks = append(tasks, dto.NewTaskDTO(&rec))
		lastCreated = rec.CreatedAt
	}

	c.JSON(http.StatusOK, dto.ListTasksResponse{
		Tasks:      tasks,
		NextCursor: nextCursor,
	})
}

package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/content-publisher/internal/domain"
	"github.com/cuongbtq/content-publisher/internal/idempotency"
)

// SubmitJobRequest is the body of POST /jobs/:job_class. At least one of ContentKey or
// ContentKeys must be set; both may be given and are merged in order.
type SubmitJobRequest struct {
	ContentKey  string          `json:"content_key"`
	ContentKeys []string        `json:"content_keys"`
	Payload     json.RawMessage `json:"payload"`
}

// Keys returns the submitted content keys in order
func (r *SubmitJobRequest) Keys() []string {
	keys := make([]string, 0, len(r.ContentKeys)+1)
	if r.ContentKey != "" {
		keys = append(keys, r.ContentKey)
	}
	return append(keys, r.ContentKeys...)
}

type SubmitJobResponse struct {
	TaskID      string        `json:"task_id"`
	Status      domain.Status `json:"status"`
	JobClass    string        `json:"job_class"`
	ContentKeys []string      `json:"content_keys"`
}

type ListTasksRequest struct {
	Status   string `form:"status"`
	JobClass string `form:"job_class"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListTasksResponse struct {
	Tasks      []TaskDTO `json:"tasks"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// TaskDTO is the summary of a task used in listings
type TaskDTO struct {
	TaskID      string        `json:"task_id"`
	JobClass    string        `json:"job_class"`
	ContentKeys []string      `json:"content_keys"`
	Status      domain.Status `json:"status"`
	Message     string        `json:"message"`
	CreatedAt   string        `json:"created_at"`
	CompletedAt string        `json:"completed_at,omitempty"`
}

// NewTaskDTO summarises a record
func NewTaskDTO(rec *domain.TaskStatusRecord) TaskDTO {
	out := TaskDTO{
		TaskID:      rec.TaskID,
		JobClass:    rec.JobClass,
		ContentKeys: rec.ContentKeys,
		Status:      rec.Status,
		Message:     rec.Message,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.CompletedAt != nil {
		out.CompletedAt = rec.CompletedAt.Format(time.RFC3339)
	}
	return out
}

type TaskLogsResponse struct {
	TaskID string            `json:"task_id"`
	Status domain.Status     `json:"status"`
	Logs   []domain.LogEntry `json:"logs"`
}

type IdempotencyCheckResponse struct {
	ContentKey string `json:"content_key"`
	JobClass   string `json:"job_class"`
	Processed  bool   `json:"processed"`
}

type IdempotencyRecordsResponse struct {
	JobClass string               `json:"job_class"`
	Total    int                  `json:"total"`
	Records  []idempotency.Record `json:"records"`
}

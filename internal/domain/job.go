package domain

import (
	"encoding/json"
	"time"
)

// Job is one unit of work owned by a class queue until its worker dequeues it.
// It is never mutated after enqueue.
type Job struct {
	TaskID      string
	JobClass    string
	ContentKeys []string
	Payload     json.RawMessage
	EnqueuedAt  time.Time
}

// TaskStatusRecord is the observable state of a submitted task
type TaskStatusRecord struct {
	TaskID      string      `json:"task_id"`
	JobClass    string      `json:"job_class"`
	ContentKeys []string    `json:"content_keys"`
	Status      Status      `json:"status"`
	Message     string      `json:"message"`
	Result      *TaskResult `json:"result,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Logs        []LogEntry  `json:"-"`
}

// TaskResult is the structured outcome of a terminal task
type TaskResult struct {
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	TimedOut  int          `json:"timed_out"`
	Items     []ItemResult `json:"items"`
}

// ItemResult is the outcome of publishing one content key
type ItemResult struct {
	ContentKey string     `json:"content_key"`
	Status     ItemStatus `json:"status"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	Uncertain  bool       `json:"uncertain,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

// LogEntry is a single line of a task's processing log
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Clone returns a deep copy so callers never share slices with the registry
func (r *TaskStatusRecord) Clone() *TaskStatusRecord {
	c := *r
	c.ContentKeys = append([]string(nil), r.ContentKeys...)
	c.Logs = append([]LogEntry(nil), r.Logs...)
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.Result != nil {
		res := *r.Result
		res.Items = append([]ItemResult(nil), r.Result.Items...)
		c.Result = &res
	}
	return &c
}

// AppendLog adds a log line to the record
func (r *TaskStatusRecord) AppendLog(at time.Time, level, message string) {
	r.Logs = append(r.Logs, LogEntry{Time: at, Level: level, Message: message})
}

// NewTaskResult tallies item outcomes
func NewTaskResult(items []ItemResult) *TaskResult {
	res := &TaskResult{Total: len(items), Items: items}
	for _, it := range items {
		switch it.Status {
		case ItemPublished:
			res.Succeeded++
		case ItemSkipped:
			res.Skipped++
		case ItemFailed:
			res.Failed++
		case ItemTimeout:
			res.TimedOut++
		}
	}
	return res
}

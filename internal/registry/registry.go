// Package registry keeps the in-memory status record of every issued task.
//
// Records are replaced as a whole under the write lock: a mutator always works on a private copy,
// so readers never observe a half-applied update.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/content-publisher/internal/domain"
)

// Mutator modifies a private copy of a task record
type Mutator func(rec *domain.TaskStatusRecord) error

// Registry maps task ids to status records
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*domain.TaskStatusRecord
	now   func() time.Time
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		tasks: make(map[string]*domain.TaskStatusRecord),
		now:   time.Now,
	}
}

// Create registers a queued task. It must run before the job is offered to a queue.
func (r *Registry) Create(taskID, jobClass string, contentKeys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[taskID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrTaskExists, taskID)
	}

	now := r.now()
	rec := &domain.TaskStatusRecord{
		TaskID:      taskID,
		JobClass:    jobClass,
		ContentKeys: append([]string(nil), contentKeys...),
		Status:      domain.StatusQueued,
		Message:     "task queued",
		CreatedAt:   now,
	}
	rec.AppendLog(now, "info", "task queued")
	r.tasks[taskID] = rec
	return nil
}

// Get returns a copy of the task record
func (r *Registry) Get(taskID string) (domain.TaskStatusRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.tasks[taskID]
	if !ok {
		return domain.TaskStatusRecord{}, false
	}
	return *rec.Clone(), true
}

// Update applies fn to a copy of the record and swaps it in if the resulting status change is legal
func (r *Registry) Update(taskID string, fn Mutator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}
	if cur.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", domain.ErrTaskTerminal, taskID, cur.Status)
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return err
	}

	next.TaskID = cur.TaskID
	next.CreatedAt = cur.CreatedAt
	if next.Status != cur.Status && !domain.CanTransition(cur.Status, next.Status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, cur.Status, next.Status)
	}

	r.tasks[taskID] = next
	return nil
}

// Abort moves a task that was never dequeued straight to failed. It is the only way out of
// queued other than processing, and is used when the service stops with jobs still waiting.
func (r *Registry) Abort(taskID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}
	if cur.Status != domain.StatusQueued {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, cur.Status, domain.StatusFailed)
	}

	now := r.now()
	next := cur.Clone()
	next.Status = domain.StatusFailed
	next.Message = message
	next.CompletedAt = &now
	next.Result = domain.NewTaskResult([]domain.ItemResult{})
	next.AppendLog(now, "error", message)
	r.tasks[taskID] = next
	return nil
}

// Discard drops a record that never left admission. Only queued records can be discarded.
func (r *Registry) Discard(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[taskID]
	if !ok || rec.Status != domain.StatusQueued {
		return false
	}
	delete(r.tasks, taskID)
	return true
}

// ListAll returns copies of every record, newest first
func (r *Registry) ListAll() []domain.TaskStatusRecord {
	r.mu.RLock()
	out := make([]domain.TaskStatusRecord, 0, len(r.tasks))
	for _, rec := range r.tasks {
		out = append(out, *rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID > out[j].TaskID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Counts returns the number of tasks per status
func (r *Registry) Counts() map[domain.Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.Status]int)
	for _, rec := range r.tasks {
		counts[rec.Status]++
	}
	return counts
}

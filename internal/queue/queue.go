// Package queue provides the bounded per-class FIFO used for admission control
package queue

import (
	"context"

	"github.com/cuongbtq/content-publisher/internal/domain"
)

// DefaultCapacity is used when a class does not configure its queue size
const DefaultCapacity = 50

// Queue is a bounded FIFO of jobs for a single job class
type Queue struct {
	name  string
	items chan *domain.Job
}

// New creates a queue that holds at most capacity jobs
func New(name string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		name:  name,
		items: make(chan *domain.Job, capacity),
	}
}

// TryEnqueue adds a job without blocking. It returns false when the queue is full.
func (q *Queue) TryEnqueue(job *domain.Job) bool {
	select {
	case q.items <- job:
		return true
	default:
		return false
	}
}

// Dequeue blocks until a job is available or ctx is done
func (q *Queue) Dequeue(ctx context.Context) (*domain.Job, error) {
	select {
	case job := <-q.items:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drain removes and returns every job currently buffered
func (q *Queue) Drain() []*domain.Job {
	var jobs []*domain.Job
	for {
		select {
		case job := <-q.items:
			jobs = append(jobs, job)
		default:
			return jobs
		}
	}
}

// Name returns the job class served by the queue
func (q *Queue) Name() string {
	return q.name
}

// Len returns the number of buffered jobs
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.items)
}

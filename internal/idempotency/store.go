// Package idempotency records which (content key, job class) pairs were already published.
//
// A record is written only after the publisher confirmed success, and its presence is the proof
// that the external effect must not be repeated. Writes are idempotent: recording an existing pair
// is a successful no-op that keeps the original claimant's task id.
package idempotency

import (
	"context"
	"sort"
	"time"
)

// Record is the durable proof that a content key was published for a job class
type Record struct {
	ContentKey string    `db:"content_key" json:"content_key"`
	JobClass   string    `db:"job_class" json:"job_class"`
	TaskID     string    `db:"task_id" json:"task_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Stats aggregates processed records for observability
type Stats struct {
	Total        int            `json:"total"`
	PerClass     map[string]int `json:"per_class"`
	CreatedToday int            `json:"created_today"`
}

// Store is the idempotency store contract shared by every backend
type Store interface {
	// IsProcessed reports whether the pair was already published
	IsProcessed(ctx context.Context, contentKey, jobClass string) (bool, error)
	// MarkProcessed records a confirmed publish; an existing record is left untouched
	MarkProcessed(ctx context.Context, contentKey, jobClass, taskID string) error
	// ListProcessed returns records newest first; an empty jobClass lists every class
	ListProcessed(ctx context.Context, jobClass string) ([]Record, error)
	// Stats returns aggregate counts; an empty jobClass covers every class
	Stats(ctx context.Context, jobClass string) (*Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// startOfDay returns local midnight of the day containing t
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func statsFromRecords(records []Record, since time.Time) *Stats {
	stats := &Stats{PerClass: make(map[string]int)}
	for _, rec := range records {
		stats.Total++
		stats.PerClass[rec.JobClass]++
		if !rec.CreatedAt.Before(since) {
			stats.CreatedToday++
		}
	}
	return stats
}

func sortNewestFirst(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ContentKey < records[j].ContentKey
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

// Package dispatch owns one queue and one worker per configured job class and admits submissions
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/content-publisher/internal/config"
	"github.com/cuongbtq/content-publisher/internal/domain"
	"github.com/cuongbtq/content-publisher/internal/events"
	"github.com/cuongbtq/content-publisher/internal/idempotency"
	"github.com/cuongbtq/content-publisher/internal/metrics"
	"github.com/cuongbtq/content-publisher/internal/publisher"
	"github.com/cuongbtq/content-publisher/internal/queue"
	"github.com/cuongbtq/content-publisher/internal/registry"
	"github.com/cuongbtq/content-publisher/internal/worker"
)

// Submission is a request to publish one or more content keys
type Submission struct {
	JobClass    string
	ContentKeys []string
	Payload     json.RawMessage
}

// Accepted is returned once a job has been admitted to its class queue
type Accepted struct {
	TaskID      string
	JobClass    string
	ContentKeys []string
	Status      domain.Status
}

// ClassInfo describes a configured job class and its live queue depth
type ClassInfo struct {
	Name          string        `json:"name"`
	QueueDepth    int           `json:"queue_depth"`
	QueueCapacity int           `json:"queue_capacity"`
	Timeout       time.Duration `json:"-"`
	TimeoutSec    float64       `json:"timeout_seconds"`
	MaxItems      int           `json:"max_items"`
}

type class struct {
	config *config.JobClassConfig
	queue  *queue.Queue
	worker *worker.Worker
}

// Config holds dispatcher dependencies
type Config struct {
	Logger     *slog.Logger
	Registry   *registry.Registry
	Store      idempotency.Store
	Notifier   events.Notifier
	JobClasses []config.JobClassConfig
	// Publishers maps a class name to its adapter. Classes without an entry get a CommandPublisher.
	Publishers map[string]publisher.Publisher
}

// Dispatcher routes submissions to per-class queues
type Dispatcher struct {
	logger   *slog.Logger
	registry *registry.Registry
	classes  map[string]*class

	mu     sync.RWMutex
	closed bool
}

// New builds a queue and worker for every configured class
func New(cfg *Config) *Dispatcher {
	d := &Dispatcher{
		logger:   cfg.Logger,
		registry: cfg.Registry,
		classes:  make(map[string]*class, len(cfg.JobClasses)),
	}

	for i := range cfg.JobClasses {
		jc := &cfg.JobClasses[i]

		pub, ok := cfg.Publishers[jc.Name]
		if !ok {
			pub = publisher.NewCommandPublisher(&jc.Publisher, cfg.Logger.With(slog.String("job_class", jc.Name)))
		}

		q := queue.New(jc.Name, jc.QueueCapacity)
		d.classes[jc.Name] = &class{
			config: jc,
			queue:  q,
			worker: worker.NewWorker(&worker.Config{
				Logger:     cfg.Logger.With(slog.String("component", "worker")),
				Queue:      q,
				Registry:   cfg.Registry,
				Store:      cfg.Store,
				Publisher:  pub,
				Notifier:   cfg.Notifier,
				JobTimeout: jc.Timeout,
			}),
		}
	}

	return d
}

// Start launches every class worker
func (d *Dispatcher) Start(ctx context.Context) {
	for _, c := range d.classes {
		c.worker.Start(ctx)
	}
	d.logger.Info("Dispatcher started",
		slog.Int("job_classes", len(d.classes)),
	)
}

// Stop refuses new submissions, then stops every worker. Workers stop in parallel; each waits
// for its in-flight job and fails its queued jobs. ctx bounds how long Stop waits.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range d.classes {
		wg.Add(1)
		go func(c *class) {
			defer wg.Done()
			c.worker.Stop()
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop workers: %w", ctx.Err())
	}
}

// Submit validates a submission, registers its task and offers the job to the class queue
// without blocking. A full queue rejects the job and its task id is never issued.
func (d *Dispatcher) Submit(sub *Submission) (*Accepted, error) {
	c, ok := d.classes[sub.JobClass]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownJobClass, sub.JobClass)
	}

	keys, err := normalizeKeys(sub.ContentKeys, c.config)
	if err != nil {
		return nil, err
	}
	if len(sub.Payload) > 0 && !json.Valid(sub.Payload) {
		return nil, domain.NewValidationError("payload", "must be valid JSON")
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, fmt.Errorf("%w: service is shutting down", domain.ErrQueueFull)
	}

	taskID := uuid.NewString()
	if err := d.registry.Create(taskID, sub.JobClass, keys); err != nil {
		return nil, fmt.Errorf("failed to register task: %w", err)
	}

	job := &domain.Job{
		TaskID:      taskID,
		JobClass:    sub.JobClass,
		ContentKeys: keys,
		Payload:     sub.Payload,
		EnqueuedAt:  time.Now(),
	}
	if !c.queue.TryEnqueue(job) {
		d.registry.Discard(taskID)
		metrics.RecordRejected(sub.JobClass)
		d.logger.Warn("Job rejected, queue is full",
			slog.String("job_class", sub.JobClass),
			slog.Int("queue_capacity", c.queue.Cap()),
		)
		return nil, fmt.Errorf("%w: %s", domain.ErrQueueFull, sub.JobClass)
	}

	metrics.RecordSubmitted(sub.JobClass)
	metrics.SetQueueDepth(sub.JobClass, c.queue.Len())
	d.logger.Info("Job queued",
		slog.String("task_id", taskID),
		slog.String("job_class", sub.JobClass),
		slog.Int("items", len(keys)),
		slog.Int("queue_depth", c.queue.Len()),
	)

	return &Accepted{
		TaskID:      taskID,
		JobClass:    sub.JobClass,
		ContentKeys: keys,
		Status:      domain.StatusQueued,
	}, nil
}

// HasClass reports whether name is a configured job class
func (d *Dispatcher) HasClass(name string) bool {
	_, ok := d.classes[name]
	return ok
}

// Classes returns the configured classes sorted by name
func (d *Dispatcher) Classes() []ClassInfo {
	out := make([]ClassInfo, 0, len(d.classes))
	for name, c := range d.classes {
		out = append(out, ClassInfo{
			Name:          name,
			QueueDepth:    c.queue.Len(),
			QueueCapacity: c.queue.Cap(),
			Timeout:       c.config.Timeout,
			TimeoutSec:    c.config.Timeout.Seconds(),
			MaxItems:      c.config.MaxItems,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// normalizeKeys trims, drops duplicates (keeping first occurrence) and enforces class limits
func normalizeKeys(raw []string, jc *config.JobClassConfig) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}

	if len(keys) == 0 {
		return nil, domain.NewValidationError("content_key", "at least one non-empty content key is required")
	}
	if jc.MaxItems > 0 && len(keys) > jc.MaxItems {
		return nil, domain.NewValidationError("content_keys", fmt.Sprintf("at most %d keys per submission", jc.MaxItems))
	}
	if jc.RequireURL {
		for _, k := range keys {
			u, err := url.Parse(k)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return nil, domain.NewValidationError("content_key", fmt.Sprintf("%q is not an absolute http(s) url", k))
			}
		}
	}
	return keys, nil
}

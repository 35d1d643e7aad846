// Package worker runs the single consumer of a job class queue and drives each task to a terminal status
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/content-publisher/internal/domain"
	"github.com/cuongbtq/content-publisher/internal/events"
	"github.com/cuongbtq/content-publisher/internal/idempotency"
	"github.com/cuongbtq/content-publisher/internal/metrics"
	"github.com/cuongbtq/content-publisher/internal/publisher"
	"github.com/cuongbtq/content-publisher/internal/queue"
	"github.com/cuongbtq/content-publisher/internal/registry"
)

// defaultStoreTimeout bounds a single idempotency store call
const defaultStoreTimeout = 10 * time.Second

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Queue        *queue.Queue
	Registry     *registry.Registry
	Store        idempotency.Store
	Publisher    publisher.Publisher
	Notifier     events.Notifier
	JobTimeout   time.Duration
	StoreTimeout time.Duration
}

// Worker consumes one class queue strictly in FIFO order, one job at a time
type Worker struct {
	logger       *slog.Logger
	queue        *queue.Queue
	registry     *registry.Registry
	store        idempotency.Store
	publisher    publisher.Publisher
	notifier     events.Notifier
	jobTimeout   time.Duration
	storeTimeout time.Duration

	wg       sync.WaitGroup
	mu       sync.Mutex
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}

	return &Worker{
		logger:       cfg.Logger.With(slog.String("job_class", cfg.Queue.Name())),
		queue:        cfg.Queue,
		registry:     cfg.Registry,
		store:        cfg.Store,
		publisher:    cfg.Publisher,
		notifier:     notifier,
		jobTimeout:   cfg.JobTimeout,
		storeTimeout: storeTimeout,
	}
}

// Start launches the processing loop. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)

	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.logger.Info("Starting worker",
		slog.Int("queue_capacity", w.queue.Cap()),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	w.wg.Add(1)
	go w.run(loopCtx)
}

// Stop stops dequeuing, waits for the in-flight job and fails every job still waiting.
// The in-flight job is bounded by the job timeout because its publish context is detached.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")

		w.mu.Lock()
		cancel := w.cancel
		w.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		w.wg.Wait()
		w.abortQueued()
		w.logger.Info("Worker stopped")
	})
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logger.Info("Worker loop stopping - context canceled")
			return
		}
		metrics.SetQueueDepth(w.queue.Name(), w.queue.Len())

		// stop was requested while this job was being handed over
		if ctx.Err() != nil {
			w.abort(job)
			return
		}

		w.processJob(ctx, job)
	}
}

// abortQueued fails the jobs that will never be dequeued so no issued task id stays non-terminal
func (w *Worker) abortQueued() {
	jobs := w.queue.Drain()
	for _, job := range jobs {
		w.abort(job)
	}
	if len(jobs) > 0 {
		w.logger.Warn("Failed jobs left in queue at shutdown",
			slog.Int("count", len(jobs)),
		)
	}
	metrics.SetQueueDepth(w.queue.Name(), w.queue.Len())
}

func (w *Worker) abort(job *domain.Job) {
	if err := w.registry.Abort(job.TaskID, domain.MessageServiceStopped); err != nil {
		w.logger.Error("Failed to abort queued task",
			slog.String("task_id", job.TaskID),
			slog.String("error", err.Error()),
		)
		return
	}

	metrics.RecordTaskFinished(job.JobClass, string(domain.StatusFailed))
	if rec, ok := w.registry.Get(job.TaskID); ok {
		w.notify(&rec)
	}
}

// notify emits the terminal event; delivery problems are logged and never affect the task
func (w *Worker) notify(rec *domain.TaskStatusRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), w.storeTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Task event notifier panicked",
				slog.String("task_id", rec.TaskID),
				slog.Any("panic", r),
			)
		}
	}()

	if err := w.notifier.Notify(ctx, events.NewTaskEvent(rec)); err != nil {
		w.logger.Warn("Failed to deliver task event",
			slog.String("task_id", rec.TaskID),
			slog.String("error", err.Error()),
		)
	}
}

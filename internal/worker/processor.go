package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cuongbtq/content-publisher/internal/domain"
	"github.com/cuongbtq/content-publisher/internal/metrics"
	"github.com/cuongbtq/content-publisher/internal/publisher"
	"github.com/cuongbtq/content-publisher/shared/tracing"
)

// processJob drives one task from queued to a terminal status
func (w *Worker) processJob(ctx context.Context, job *domain.Job) {
	ctx, span := tracing.StartSpan(ctx, "worker.processJob",
		attribute.String("task_id", job.TaskID),
		attribute.String("job_class", job.JobClass),
		attribute.Int("items", len(job.ContentKeys)),
	)
	defer span.End()

	log := w.logger.With(slog.String("task_id", job.TaskID))
	defer func() {
		if r := recover(); r != nil {
			w.recoverJob(job, r)
		}
	}()

	log.Info("Processing job",
		slog.Int("items", len(job.ContentKeys)),
		slog.Duration("queued_for", time.Since(job.EnqueuedAt)),
	)

	err := w.registry.Update(job.TaskID, func(rec *domain.TaskStatusRecord) error {
		now := time.Now()
		rec.Status = domain.StatusProcessing
		rec.StartedAt = &now
		rec.Message = fmt.Sprintf("processing %d item(s)", len(job.ContentKeys))
		rec.AppendLog(now, "info", rec.Message)
		return nil
	})
	if err != nil {
		// the record is gone or already terminal; nothing may be published for it
		log.Error("Failed to mark task processing",
			slog.String("error", err.Error()),
		)
		tracing.RecordError(span, err)
		return
	}

	items := make([]domain.ItemResult, 0, len(job.ContentKeys))
	for i, key := range job.ContentKeys {
		item := w.processItem(ctx, job, key)
		items = append(items, item)
		metrics.RecordItem(job.JobClass, string(item.Status))

		line := fmt.Sprintf("item %d/%d %s: %s", i+1, len(job.ContentKeys), key, item.Status)
		level := "info"
		if item.Error != "" {
			line += ": " + item.Error
			level = "error"
		}
		w.appendLog(job.TaskID, level, line)
	}

	status, message := aggregate(items)
	result := domain.NewTaskResult(items)

	err = w.registry.Update(job.TaskID, func(rec *domain.TaskStatusRecord) error {
		now := time.Now()
		rec.Status = status
		rec.Message = message
		rec.Result = result
		rec.CompletedAt = &now
		level := "info"
		if status != domain.StatusCompleted {
			level = "error"
		}
		rec.AppendLog(now, level, message)
		return nil
	})
	if err != nil {
		log.Error("Failed to record terminal status",
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		tracing.RecordError(span, err)
		return
	}

	span.SetAttributes(attribute.String("status", string(status)))
	metrics.RecordTaskFinished(job.JobClass, string(status))

	log.Info("Job finished",
		slog.String("status", string(status)),
		slog.String("message", message),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Int("timed_out", result.TimedOut),
	)

	if rec, ok := w.registry.Get(job.TaskID); ok {
		w.notify(&rec)
	}
}

// processItem checks, publishes and records a single content key. A panic in the store
// fails the item unless the publish was already confirmed.
func (w *Worker) processItem(ctx context.Context, job *domain.Job, key string) (item domain.ItemResult) {
	item = domain.ItemResult{ContentKey: key}
	start := time.Now()

	log := w.logger.With(
		slog.String("task_id", job.TaskID),
		slog.String("content_key", key),
	)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error("Panic while processing item",
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())),
		)
		if item.Status == domain.ItemPublished {
			item.Output = appendNote(item.Output, fmt.Sprintf("warning: failed to record idempotency: panic: %v", r))
		} else {
			item.Status = domain.ItemFailed
			item.Error = fmt.Sprintf("internal error: %v", r)
		}
		item = finishItem(item, start)
	}()

	processed, err := w.isProcessed(ctx, key, job.JobClass)
	if err != nil {
		// without a definite answer the effect may already exist
		log.Error("Idempotency check failed",
			slog.String("error", err.Error()),
		)
		item.Status = domain.ItemFailed
		item.Error = fmt.Sprintf("idempotency check failed: %s", err.Error())
		return finishItem(item, start)
	}
	if processed {
		log.Info("Content already processed, skipping")
		item.Status = domain.ItemSkipped
		item.Output = domain.MessageSkipped
		return finishItem(item, start)
	}

	output, err := w.publish(ctx, &publisher.Request{
		TaskID:     job.TaskID,
		JobClass:   job.JobClass,
		ContentKey: key,
		Payload:    job.Payload,
	})
	item.Output = output

	switch {
	case err == nil:
		item.Status = domain.ItemPublished
		if markErr := w.markProcessed(ctx, key, job.JobClass, job.TaskID); markErr != nil {
			log.Error("Published but failed to record idempotency",
				slog.String("error", markErr.Error()),
			)
			item.Output = appendNote(item.Output, "warning: failed to record idempotency: "+markErr.Error())
		}
		log.Info("Content published")

	case errors.Is(err, domain.ErrPublishTimeout):
		log.Warn("Publisher timed out",
			slog.Duration("timeout", w.jobTimeout),
		)
		item.Status = domain.ItemTimeout
		item.Error = err.Error()

	default:
		var pubErr *domain.PublishError
		if errors.As(err, &pubErr) {
			item.Uncertain = pubErr.Uncertain
		}
		log.Error("Publisher failed",
			slog.String("error", err.Error()),
			slog.Bool("uncertain", item.Uncertain),
		)
		item.Status = domain.ItemFailed
		item.Error = err.Error()
	}

	return finishItem(item, start)
}

func finishItem(item domain.ItemResult, start time.Time) domain.ItemResult {
	item.DurationMs = time.Since(start).Milliseconds()
	return item
}

// publish runs the publisher under the job timeout. The publish context is detached from
// service cancellation so shutdown never interrupts an in-flight publish; once the timeout
// elapses the worker stops waiting even if the publisher ignores its context.
func (w *Worker) publish(ctx context.Context, req *publisher.Request) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "publisher.Publish",
		attribute.String("content_key", req.ContentKey),
	)
	defer span.End()

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("publisher panicked: %v", r)}
			}
		}()
		output, err := w.publisher.Publish(pctx, req)
		done <- outcome{output: output, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
		if res.err != nil && pctx.Err() != nil {
			res.err = fmt.Errorf("%w after %s", domain.ErrPublishTimeout, w.jobTimeout)
		}
	case <-pctx.Done():
		select {
		case res = <-done:
			// a confirmed success that raced the deadline still counts
			if res.err != nil {
				res.err = fmt.Errorf("%w after %s", domain.ErrPublishTimeout, w.jobTimeout)
			}
		default:
			res = outcome{err: fmt.Errorf("%w after %s", domain.ErrPublishTimeout, w.jobTimeout)}
		}
	}

	outcomeLabel := string(domain.ItemPublished)
	switch {
	case errors.Is(res.err, domain.ErrPublishTimeout):
		outcomeLabel = string(domain.ItemTimeout)
	case res.err != nil:
		outcomeLabel = string(domain.ItemFailed)
	}
	metrics.ObservePublisher(req.JobClass, outcomeLabel, time.Since(start))
	tracing.RecordError(span, res.err)

	return res.output, res.err
}

// recoverJob moves a task whose processing panicked to failed so its id never stays non-terminal
func (w *Worker) recoverJob(job *domain.Job, r interface{}) {
	w.logger.Error("Panic while processing job",
		slog.String("task_id", job.TaskID),
		slog.Any("panic", r),
		slog.String("stack", string(debug.Stack())),
	)

	message := fmt.Sprintf("internal error: %v", r)
	rec, ok := w.registry.Get(job.TaskID)
	if !ok || rec.Status.IsTerminal() {
		return
	}

	var err error
	if rec.Status == domain.StatusQueued {
		err = w.registry.Abort(job.TaskID, message)
	} else {
		err = w.registry.Update(job.TaskID, func(rec *domain.TaskStatusRecord) error {
			now := time.Now()
			rec.Status = domain.StatusFailed
			rec.Message = message
			if rec.Result == nil {
				rec.Result = domain.NewTaskResult([]domain.ItemResult{})
			}
			rec.CompletedAt = &now
			rec.AppendLog(now, "error", message)
			return nil
		})
	}
	if err != nil {
		w.logger.Error("Failed to fail panicked task",
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

func (w *Worker) isProcessed(ctx context.Context, key, jobClass string) (bool, error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.storeTimeout)
	defer cancel()
	return w.store.IsProcessed(sctx, key, jobClass)
}

func (w *Worker) markProcessed(ctx context.Context, key, jobClass, taskID string) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.storeTimeout)
	defer cancel()
	return w.store.MarkProcessed(sctx, key, jobClass, taskID)
}

func (w *Worker) appendLog(taskID, level, message string) {
	err := w.registry.Update(taskID, func(rec *domain.TaskStatusRecord) error {
		rec.AppendLog(time.Now(), level, message)
		return nil
	})
	if err != nil {
		w.logger.Warn("Failed to append task log",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

// aggregate folds item outcomes into the task's terminal status and message
func aggregate(items []domain.ItemResult) (domain.Status, string) {
	var succeeded, skipped, timedOut int
	for _, it := range items {
		switch it.Status {
		case domain.ItemPublished:
			succeeded++
		case domain.ItemSkipped:
			succeeded++
			skipped++
		case domain.ItemTimeout:
			timedOut++
		}
	}

	total := len(items)
	switch {
	case total > 0 && skipped == total:
		return domain.StatusCompleted, domain.MessageSkipped
	case succeeded == total:
		if total == 1 {
			return domain.StatusCompleted, "published"
		}
		return domain.StatusCompleted, fmt.Sprintf("published %d item(s)", total)
	case succeeded > 0:
		return domain.StatusCompleted, fmt.Sprintf("partial: %d/%d items succeeded", succeeded, total)
	case timedOut > 0:
		if total == 1 {
			return domain.StatusTimeout, items[0].Error
		}
		return domain.StatusTimeout, fmt.Sprintf("timeout: %d/%d items timed out", timedOut, total)
	default:
		if total == 1 {
			return domain.StatusFailed, items[0].Error
		}
		return domain.StatusFailed, fmt.Sprintf("failed: 0/%d items succeeded", total)
	}
}

func appendNote(output, note string) string {
	if output == "" {
		return note
	}
	return output + "\n" + note
}

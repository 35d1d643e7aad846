// Package events announces terminal task transitions to other systems
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/content-publisher/internal/domain"
)

// TaskEvent is the message emitted when a task reaches a terminal status
type TaskEvent struct {
	TaskID      string             `json:"task_id"`
	JobClass    string             `json:"job_class"`
	Status      domain.Status      `json:"status"`
	Message     string             `json:"message"`
	ContentKeys []string           `json:"content_keys"`
	Result      *domain.TaskResult `json:"result,omitempty"`
	CompletedAt time.Time          `json:"completed_at"`
}

// NewTaskEvent builds an event from a terminal record
func NewTaskEvent(rec *domain.TaskStatusRecord) *TaskEvent {
	ev := &TaskEvent{
		TaskID:      rec.TaskID,
		JobClass:    rec.JobClass,
		Status:      rec.Status,
		Message:     rec.Message,
		ContentKeys: rec.ContentKeys,
		Result:      rec.Result,
	}
	if rec.CompletedAt != nil {
		ev.CompletedAt = *rec.CompletedAt
	}
	return ev
}

// Notifier delivers task events. Delivery failures never change task state.
type Notifier interface {
	Notify(ctx context.Context, ev *TaskEvent) error
}

// NopNotifier drops every event
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *TaskEvent) error { return nil }

// Publisher is the subset of the RabbitMQ client the notifier needs
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// RabbitNotifier publishes events as JSON to a topic exchange
type RabbitNotifier struct {
	publisher Publisher
	prefix    string
	logger    *slog.Logger
}

// NewRabbitNotifier creates a notifier routing events under prefix
func NewRabbitNotifier(publisher Publisher, prefix string, logger *slog.Logger) *RabbitNotifier {
	return &RabbitNotifier{
		publisher: publisher,
		prefix:    prefix,
		logger:    logger,
	}
}

// RoutingKey returns "<prefix>.<job_class>.<status>"; dots in the class are replaced so
// consumers can bind with a single-word wildcard.
func RoutingKey(prefix, jobClass string, status domain.Status) string {
	class := strings.ReplaceAll(jobClass, ".", "_")
	if prefix == "" {
		return class + "." + string(status)
	}
	return prefix + "." + class + "." + string(status)
}

func (n *RabbitNotifier) Notify(ctx context.Context, ev *TaskEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal task event: %w", err)
	}

	key := RoutingKey(n.prefix, ev.JobClass, ev.Status)
	if err := n.publisher.PublishWithRetry(ctx, key, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish task event: %w", err)
	}

	n.logger.Debug("Task event published",
		slog.String("task_id", ev.TaskID),
		slog.String("routing_key", key),
	)
	return nil
}

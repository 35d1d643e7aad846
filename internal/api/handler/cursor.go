package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/content-publisher/internal/domain"
)

// TaskCursor marks the last task of a page in (created_at desc, task_id desc) order
type TaskCursor struct {
	CreatedAt time.Time
	TaskID    string
}

// After reports whether rec comes after the cursor in listing order
func (c *TaskCursor) After(rec *domain.TaskStatusRecord) bool {
	if rec.CreatedAt.Equal(c.CreatedAt) {
		return rec.TaskID < c.TaskID
	}
	return rec.CreatedAt.Before(c.CreatedAt)
}

func DecodeTaskCursor(cursorStr string) (*TaskCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	createdPart, taskID, ok := strings.Cut(string(decoded), "|")
	if !ok || taskID == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(createdPart, "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &TaskCursor{
		CreatedAt: time.Unix(0, createdAt),
		TaskID:    taskID,
	}, nil
}

func EncodeTaskCursor(cursor *TaskCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.TaskID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}

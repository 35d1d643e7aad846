// Package publisher defines the seam between the orchestration core and platform-specific publishing
package publisher

import (
	"context"
	"encoding/json"
)

// Request describes one content key to publish
type Request struct {
	TaskID     string          `json:"task_id"`
	JobClass   string          `json:"job_class"`
	ContentKey string          `json:"content_key"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Publisher performs the external, non-reversible publish of one content key.
// A nil error means the platform confirmed the effect. Implementations must honour ctx.
type Publisher interface {
	Publish(ctx context.Context, req *Request) (string, error)
}

// Func adapts an ordinary function to Publisher
type Func func(ctx context.Context, req *Request) (string, error)

func (f Func) Publish(ctx context.Context, req *Request) (string, error) {
	return f(ctx, req)
}

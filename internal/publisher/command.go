package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/content-publisher/internal/config"
	"github.com/cuongbtq/content-publisher/internal/domain"
)

// ExitUncertain is the exit code (EX_TEMPFAIL) a publisher script uses when it could not
// verify whether the platform applied the publish.
const ExitUncertain = 75

// maxOutputBytes bounds the diagnostic kept from a publisher run
const maxOutputBytes = 16 * 1024

// CommandPublisher runs an external command per content key
type CommandPublisher struct {
	config *config.PublisherConfig
	logger *slog.Logger
}

// NewCommandPublisher creates a publisher for a job class
func NewCommandPublisher(config *config.PublisherConfig, logger *slog.Logger) *CommandPublisher {
	return &CommandPublisher{
		config: config,
		logger: logger,
	}
}

func (p *CommandPublisher) Publish(ctx context.Context, req *Request) (string, error) {
	stdin, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal publish request: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.config.Command, expandArgs(p.config.Args, req)...)
	cmd.Dir = p.config.Dir
	cmd.Env = p.environ(req)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.WaitDelay = p.config.WaitDelay

	out := &tailBuffer{limit: maxOutputBytes}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err = cmd.Run()
	output := strings.TrimSpace(out.String())

	p.logger.Debug("Publisher command finished",
		slog.String("task_id", req.TaskID),
		slog.String("content_key", req.ContentKey),
		slog.String("command", p.config.Command),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("ok", err == nil),
	)

	if err == nil {
		return output, nil
	}

	// the context ended first: the caller reports a timeout, not a publisher failure
	if ctxErr := ctx.Err(); ctxErr != nil {
		return output, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		return output, &domain.PublishError{
			Err:       fmt.Errorf("publisher exited with code %d", code),
			ExitCode:  code,
			Uncertain: code == ExitUncertain,
		}
	}

	// the command never started
	return output, &domain.PublishError{
		Err:      fmt.Errorf("failed to run publisher: %w", err),
		ExitCode: -1,
	}
}

func (p *CommandPublisher) environ(req *Request) []string {
	env := os.Environ()
	for k, v := range p.config.Env {
		env = append(env, k+"="+v)
	}

	retry := p.config.Retry
	return append(env,
		"PUBLISH_TASK_ID="+req.TaskID,
		"PUBLISH_JOB_CLASS="+req.JobClass,
		"PUBLISH_CONTENT_KEY="+req.ContentKey,
		"PUBLISH_RETRY_MAX_ATTEMPTS="+strconv.Itoa(retry.MaxAttempts),
		"PUBLISH_RETRY_INITIAL_BACKOFF="+retry.InitialBackoff.String(),
		"PUBLISH_RETRY_BACKOFF_MULTIPLIER="+strconv.FormatFloat(retry.BackoffMultiplier, 'f', -1, 64),
	)
}

func expandArgs(args []string, req *Request) []string {
	r := strings.NewReplacer(
		"{content_key}", req.ContentKey,
		"{task_id}", req.TaskID,
		"{job_class}", req.JobClass,
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return "...(truncated)\n" + string(b.buf)
	}
	return string(b.buf)
}

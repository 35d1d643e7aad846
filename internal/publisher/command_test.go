package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/content-publisher/internal/config"
	"github.com/cuongbtq/content-publisher/internal/domain"
)

func shellPublisher(script string, args ...string) *CommandPublisher {
	return NewCommandPublisher(&config.PublisherConfig{
		Command:   "/bin/sh",
		Args:      append([]string{"-c", script, "publisher"}, args...),
		WaitDelay: time.Second,
		Env:       map[string]string{"PLATFORM": "test"},
		Retry: config.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    2 * time.Second,
			BackoffMultiplier: 1.5,
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testRequest() *Request {
	return &Request{
		TaskID:     "task-1",
		JobClass:   "article-forward",
		ContentKey: "https://example.com/a",
		Payload:    json.RawMessage(`{"title":"hello"}`),
	}
}

func TestCommandPublisher_Success(t *testing.T) {
	p := shellPublisher(`echo "published $1 for $2"`, "{content_key}", "{task_id}")

	out, err := p.Publish(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "published https://example.com/a for task-1", out)
}

func TestCommandPublisher_Environment(t *testing.T) {
	p := shellPublisher(`echo "$PUBLISH_JOB_CLASS|$PUBLISH_CONTENT_KEY|$PUBLISH_RETRY_MAX_ATTEMPTS|$PUBLISH_RETRY_INITIAL_BACKOFF|$PUBLISH_RETRY_BACKOFF_MULTIPLIER|$PLATFORM"`)

	out, err := p.Publish(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "article-forward|https://example.com/a|3|2s|1.5|test", out)
}

func TestCommandPublisher_RequestOnStdin(t *testing.T) {
	p := shellPublisher(`cat`)

	out, err := p.Publish(context.Background(), testRequest())
	require.NoError(t, err)

	var got Request
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, *testRequest(), got)
}

func TestCommandPublisher_Failures(t *testing.T) {
	tests := []struct {
		name          string
		script        string
		wantCode      int
		wantUncertain bool
		wantOutput    string
	}{
		{
			name:       "definite failure",
			script:     `echo "login rejected" >&2; exit 1`,
			wantCode:   1,
			wantOutput: "login rejected",
		},
		{
			name:          "uncertain failure",
			script:        `echo "could not verify post" >&2; exit 75`,
			wantCode:      ExitUncertain,
			wantUncertain: true,
			wantOutput:    "could not verify post",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := shellPublisher(tt.script).Publish(context.Background(), testRequest())
			require.Error(t, err)

			var pubErr *domain.PublishError
			require.True(t, errors.As(err, &pubErr))
			assert.Equal(t, tt.wantCode, pubErr.ExitCode)
			assert.Equal(t, tt.wantUncertain, pubErr.Uncertain)
			assert.Equal(t, tt.wantOutput, out)
		})
	}
}

func TestCommandPublisher_MissingCommand(t *testing.T) {
	p := NewCommandPublisher(&config.PublisherConfig{Command: "/nonexistent/publisher"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := p.Publish(context.Background(), testRequest())
	var pubErr *domain.PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, -1, pubErr.ExitCode)
	assert.False(t, pubErr.Uncertain)
}

func TestCommandPublisher_ContextDeadline(t *testing.T) {
	p := shellPublisher(`sleep 5`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Publish(ctx, testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExpandArgs(t *testing.T) {
	got := expandArgs([]string{"--url", "{content_key}", "--tag={job_class}/{task_id}"}, testRequest())
	assert.Equal(t, []string{"--url", "https://example.com/a", "--tag=article-forward/task-1"}, got)
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{limit: 8}
	_, _ = b.Write([]byte("0123456789"))
	_, _ = b.Write([]byte("ab"))

	assert.True(t, strings.HasSuffix(b.String(), "456789ab"))
	assert.True(t, strings.HasPrefix(b.String(), "...(truncated)"))
}

func TestFunc(t *testing.T) {
	var p Publisher = Func(func(_ context.Context, req *Request) (string, error) {
		return "ok " + req.ContentKey, nil
	})

	out, err := p.Publish(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok https://example.com/a", out)
}

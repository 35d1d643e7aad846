package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusCompleted, false},
		{StatusQueued, StatusFailed, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusTimeout, true},
		{StatusProcessing, StatusQueued, false},
		{StatusCompleted, StatusFailed, false},
		{StatusTimeout, StatusProcessing, false},
		{StatusFailed, StatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTaskStatusRecord_Clone(t *testing.T) {
	started := time.Now()
	orig := &TaskStatusRecord{
		TaskID:      "t1",
		ContentKeys: []string{"a"},
		StartedAt:   &started,
		Result:      &TaskResult{Items: []ItemResult{{ContentKey: "a", Status: ItemPublished}}},
	}
	orig.AppendLog(started, "info", "hello")

	c := orig.Clone()
	c.ContentKeys[0] = "b"
	c.Result.Items[0].Status = ItemFailed
	c.Logs[0].Message = "changed"
	*c.StartedAt = started.Add(time.Hour)

	assert.Equal(t, "a", orig.ContentKeys[0])
	assert.Equal(t, ItemPublished, orig.Result.Items[0].Status)
	assert.Equal(t, "hello", orig.Logs[0].Message)
	assert.Equal(t, started, *orig.StartedAt)
}

func TestNewTaskResult(t *testing.T) {
	res := NewTaskResult([]ItemResult{
		{Status: ItemPublished},
		{Status: ItemSkipped},
		{Status: ItemFailed},
		{Status: ItemTimeout},
		{Status: ItemPublished},
	})

	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.TimedOut)
}

func TestPublishError(t *testing.T) {
	cause := errors.New("exit status 75")
	err := error(&PublishError{Err: cause, ExitCode: 75, Uncertain: true})

	var pubErr *PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.True(t, pubErr.Uncertain)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "uncertain")
}

package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/content-publisher/internal/api/dto"
	"github.com/cuongbtq/content-publisher/internal/api/handler"
	"github.com/cuongbtq/content-publisher/internal/config"
	"github.com/cuongbtq/content-publisher/internal/dispatch"
	"github.com/cuongbtq/content-publisher/internal/domain"
	"github.com/cuongbtq/content-publisher/internal/idempotency"
	"github.com/cuongbtq/content-publisher/internal/publisher"
	"github.com/cuongbtq/content-publisher/internal/registry"
)

type testServer struct {
	engine     *gin.Engine
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	store      *idempotency.MemoryStore
}

func newTestServer(t *testing.T, capacity int, start bool, rateLimit config.RateLimitConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New()
	store := idempotency.NewMemoryStore()
	d := dispatch.New(&dispatch.Config{
		Logger:   logger,
		Registry: reg,
		Store:    store,
		JobClasses: []config.JobClassConfig{
			{Name: "article-forward", QueueCapacity: capacity, Timeout: time.Second, MaxItems: 5},
		},
		Publishers: map[string]publisher.Publisher{
			"article-forward": publisher.Func(func(_ context.Context, req *publisher.Request) (string, error) {
				return "posted " + req.ContentKey, nil
			}),
		},
	})
	if start {
		d.Start(context.Background())
	}
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	engine := SetupRouter(&handler.Dependencies{
		Logger:     logger,
		Dispatcher: d,
		Registry:   reg,
		Store:      store,
	}, rateLimit)

	return &testServer{engine: engine, dispatcher: d, registry: reg, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSubmitJob_AcceptedAndCompleted(t *testing.T) {
	s := newTestServer(t, 10, true, config.RateLimitConfig{})

	w := s.do(t, http.MethodPost, "/jobs/article-forward", map[string]interface{}{
		"content_key": "https://example.com/a",
		"payload":     map[string]string{"title": "hello"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decode[dto.SubmitJobResponse](t, w)
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, domain.StatusQueued, resp.Status)
	assert.Equal(t, []string{"https://example.com/a"}, resp.ContentKeys)

	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, "/tasks/"+resp.TaskID, nil)
		rec := decode[domain.TaskStatusRecord](t, w)
		return rec.Status == domain.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	w = s.do(t, http.MethodGet, "/tasks/"+resp.TaskID, nil)
	rec := decode[domain.TaskStatusRecord](t, w)
	require.NotNil(t, rec.Result)
	assert.Equal(t, 1, rec.Result.Succeeded)
	assert.NotNil(t, rec.StartedAt)
	assert.NotNil(t, rec.CompletedAt)

	w = s.do(t, http.MethodGet, "/tasks/"+resp.TaskID+"/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[dto.TaskLogsResponse](t, w)
	assert.GreaterOrEqual(t, len(logs.Logs), 3)
}

func TestSubmitJob_Errors(t *testing.T) {
	s := newTestServer(t, 10, false, config.RateLimitConfig{})

	tests := []struct {
		name     string
		path     string
		body     interface{}
		wantCode int
	}{
		{"unknown class", "/jobs/unknown", map[string]string{"content_key": "a"}, http.StatusNotFound},
		{"empty body", "/jobs/article-forward", nil, http.StatusBadRequest},
		{"malformed json", "/jobs/article-forward", `{"content_key":`, http.StatusBadRequest},
		{"no keys", "/jobs/article-forward", map[string]string{}, http.StatusBadRequest},
		{"too many keys", "/jobs/article-forward", map[string][]string{"content_keys": {"1", "2", "3", "4", "5", "6"}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, w.Code)

			body := decode[map[string]interface{}](t, w)
			assert.Contains(t, body, "error")
			assert.NotContains(t, body, "task_id")
		})
	}

	assert.Empty(t, s.registry.ListAll())
}

func TestSubmitJob_QueueFull(t *testing.T) {
	s := newTestServer(t, 1, false, config.RateLimitConfig{})

	w := s.do(t, http.MethodPost, "/jobs/article-forward", map[string]string{"content_key": "a"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(t, http.MethodPost, "/jobs/article-forward", map[string]string{"content_key": "b"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	body := decode[map[string]interface{}](t, w)
	assert.NotContains(t, body, "task_id")
	assert.Len(t, s.registry.ListAll(), 1)
}

func TestSubmitJob_RateLimited(t *testing.T) {
	s := newTestServer(t, 10, false, config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})

	w := s.do(t, http.MethodPost, "/jobs/article-forward", map[string]string{"content_key": "a"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(t, http.MethodPost, "/jobs/article-forward", map[string]string{"content_key": "b"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// reads are not limited
	w = s.do(t, http.MethodGet, "/tasks", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetTask_NotFound(t *testing.T) {
	s := newTestServer(t, 10, false, config.RateLimitConfig{})

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/tasks/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/tasks/missing/logs", nil).Code)
}

func TestListTasks_Pagination(t *testing.T) {
	s := newTestServer(t, 10, false, config.RateLimitConfig{})

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		w := s.do(t, http.MethodPost, "/jobs/article-forward", map[string]string{"content_key": key})
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	var seen []string
	cursor := ""
	for page := 0; page < 5; page++ {
		path := "/tasks?page_size=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		w := s.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code)

		resp := decode[dto.ListTasksResponse](t, w)
		for _, task := range resp.Tasks {
			seen = append(seen, task.TaskID)
		}
		if resp.NextCursor == "" {
			break
		}
		assert.Len(t, resp.Tasks, 2)
		cursor = resp.NextCursor
	}

	require.Len(t, seen, 5)
	all := s.registry.ListAll()
	for i, rec := range all {
		assert.Equal(t, rec.TaskID, seen[i])
	}
}

func TestListTasks_Filters(t *testing.T) {
	s := newTestServer(t, 10, false, config.RateLimitConfig{})
	s.do(t, http.MethodPost, "/jobs/article-forward", map[string]string{"content_key": "a"})

	w := s.do(t, http.MethodGet, "/tasks?status=queued&job_class=article-forward", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[dto.ListTasksResponse](t, w).Tasks, 1)

	w = s.do(t, http.MethodGet, "/tasks?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[dto.ListTasksResponse](t, w).Tasks)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/tasks?status=bogus", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/tasks?cursor=%25%25", nil).Code)
}

func TestListJobClasses(t *testing.T) {
	s := newTestServer(t, 10, false, config.RateLimitConfig{})
	s.do(t, http.MethodPost, "/jobs/article-forward", map[string]string{"content_key": "a"})

	w := s.do(t, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string][]dispatch.ClassInfo](t, w)
	require.Len(t, body["job_classes"], 1)
	assert.Equal(t, "article-forward", body["job_classes"][0].Name)
	assert.Equal(t, 1, body["job_classes"][0].QueueDepth)
	assert.Equal(t, 10, body["job_classes"][0].QueueCapacity)
}

func TestIdempotencyEndpoints(t *testing.T) {
	s := newTestServer(t, 10, false, config.RateLimitConfig{})
	require.NoError(t, s.store.MarkProcessed(context.Background(), "https://example.com/a", "article-forward", "task-1"))

	w := s.do(t, http.MethodGet, "/jobs/article-forward/idempotency/check?content_key=https://example.com/a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	check := decode[dto.IdempotencyCheckResponse](t, w)
	assert.True(t, check.Processed)
	assert.Equal(t, "article-forward", check.JobClass)

	w = s.do(t, http.MethodGet, "/jobs/article-forward/idempotency/check?content_key=https://example.com/b", nil)
	assert.False(t, decode[dto.IdempotencyCheckResponse](t, w).Processed)

	w = s.do(t, http.MethodGet, "/jobs/article-forward/idempotency/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[idempotency.Stats](t, w)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.PerClass["article-forward"])

	w = s.do(t, http.MethodGet, "/jobs/article-forward/idempotency/records", nil)
	require.Equal(t, http.StatusOK, w.Code)
	records := decode[dto.IdempotencyRecordsResponse](t, w)
	require.Len(t, records.Records, 1)
	assert.Equal(t, "task-1", records.Records[0].TaskID)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/jobs/article-forward/idempotency/check", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/jobs/video/idempotency/stats", nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, 10, false, config.RateLimitConfig{})
	s.do(t, http.MethodPost, "/jobs/article-forward", map[string]string{"content_key": "a"})

	w := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]interface{}](t, w)
	assert.Equal(t, "healthy", body["status"])

	w = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "publish_jobs_submitted_total")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, 10, false, config.RateLimitConfig{})

	w := s.do(t, http.MethodOptions, "/jobs/article-forward", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestIPRateLimiter_PrunesIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newIPRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))

	now = now.Add(11 * time.Minute)
	assert.True(t, l.allow("10.0.0.2"))
	assert.Len(t, l.visitors, 1)
	assert.Contains(t, l.visitors, "10.0.0.2")
}

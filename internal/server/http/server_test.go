package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/taskqd/taskqd/internal/config"
	"github.com/taskqd/taskqd/internal/queue"
	"github.com/taskqd/taskqd/internal/runtime"
	tasksvc "github.com/taskqd/taskqd/internal/services/tasks"
	pebblestore "github.com/taskqd/taskqd/internal/storage/pebble"
	logpkg "github.com/taskqd/taskqd/pkg/log"
)

func newTestServer(t *testing.T, mutate func(*cfgpkg.Config)) (*Server, *runtime.Runtime) {
	t.Helper()
	cfg := cfgpkg.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	logger := logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel))
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
		Config:  cfg,
		Logger:  logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt, tasksvc.NewWithLogger(rt, logger), logger), rt
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func validBody() map[string]any {
	return map[string]any{
		"title":       "Complete project documentation",
		"description": "Write comprehensive documentation for the API",
		"priority":    "high",
		"due_date":    "2026-01-15T18:00:00Z",
	}
}

func TestCreateTaskEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/tasks", validBody(), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res tasksvc.CreateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.Task.TaskID)
	assert.Equal(t, "queued", res.Task.Status)
	assert.NotEmpty(t, res.MessageID)
	assert.False(t, res.Duplicate)
}

func TestCreateTaskValidationError(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	body := validBody()
	body["priority"] = "urgent"
	delete(body, "title")
	rec := doJSON(t, h, http.MethodPost, "/v1/tasks", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var res struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Contains(t, res.Fields, "title")
	assert.Contains(t, res.Fields, "priority")
}

func TestCreateTaskRejectsMalformedJSON(t *testing.T) {
	s, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTaskPayloadLimit(t *testing.T) {
	s, _ := newTestServer(t, func(c *cfgpkg.Config) { c.PayloadMaxBytes = 64 })
	body := validBody()
	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/tasks", body, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCreateTaskDuplicate(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	first := doJSON(t, h, http.MethodPost, "/v1/tasks", validBody(), nil)
	require.Equal(t, http.StatusCreated, first.Code)
	var res1 tasksvc.CreateResult
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &res1))

	second := doJSON(t, h, http.MethodPost, "/v1/tasks", validBody(), nil)
	require.Equal(t, http.StatusOK, second.Code)
	var res2 tasksvc.CreateResult
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &res2))
	assert.True(t, res2.Duplicate)
	assert.Equal(t, res1.MessageID, res2.MessageID)
}

func TestCreateTaskQueueFull(t *testing.T) {
	s, _ := newTestServer(t, func(c *cfgpkg.Config) { c.Capacity = 1 })
	h := s.Handler()

	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/v1/tasks", validBody(), nil).Code)
	body := validBody()
	body["title"] = "Another task"
	rec := doJSON(t, h, http.MethodPost, "/v1/tasks", body, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	s, _ := newTestServer(t, func(c *cfgpkg.Config) {
		c.RequireAPIKey = true
		c.APIKey = "secret-key"
	})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/tasks", validBody(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/tasks", validBody(), map[string]string{"x-api-key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/tasks", validBody(), map[string]string{"x-api-key": "secret-key"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Health stays open for probes.
	rec = doJSON(t, h, http.MethodGet, "/v1/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/v1/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "healthy", res["status"])
	assert.NotEmpty(t, res["timestamp"])
}

func TestDeadLetterAndStatsEndpoints(t *testing.T) {
	s, rt := newTestServer(t, func(c *cfgpkg.Config) { c.RetryBudget = 1 })
	h := s.Handler()
	ctx := context.Background()
	group := rt.Config().GroupID

	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/v1/tasks", validBody(), nil).Code)
	m, err := rt.Engine().Receive(ctx, group, time.Second)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NoError(t, rt.Engine().Fail(ctx, m.ID, queue.ReasonHandlerFailed))

	rec := doJSON(t, h, http.MethodGet, "/v1/dlq", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dlq struct {
		DeadLetters []queue.DeadLetter `json:"dead_letters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dlq))
	require.Len(t, dlq.DeadLetters, 1)
	assert.Equal(t, queue.ReasonHandlerFailed, dlq.DeadLetters[0].Reason)

	rec = doJSON(t, h, http.MethodGet, "/v1/dlq?filter="+`reason%20==%20%22lease%20expired%22`, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dlq))
	assert.Empty(t, dlq.DeadLetters)

	rec = doJSON(t, h, http.MethodGet, "/v1/dlq?filter=)bad(", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st queue.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.DeadLettered)
	assert.Equal(t, 0, st.InFlight)
}

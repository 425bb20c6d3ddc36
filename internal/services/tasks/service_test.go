package tasksvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/taskqd/taskqd/internal/config"
	"github.com/taskqd/taskqd/internal/queue"
	"github.com/taskqd/taskqd/internal/runtime"
	pebblestore "github.com/taskqd/taskqd/internal/storage/pebble"
	"github.com/taskqd/taskqd/internal/task"
	logpkg "github.com/taskqd/taskqd/pkg/log"
)

func newTestService(t *testing.T) (*Service, *runtime.Runtime) {
	t.Helper()
	cfg := cfgpkg.Default()
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
		Config:  cfg,
		Logger:  logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return NewWithLogger(rt, logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel))), rt
}

func sampleRequest() task.CreateRequest {
	return task.CreateRequest{
		Title:       "Ship release notes",
		Description: "Summarize the changes for the 1.4 release",
		Priority:    task.PriorityMedium,
	}
}

func TestCreateTaskAcceptsAndEnqueues(t *testing.T) {
	svc, rt := newTestService(t)
	ctx := context.Background()

	res, err := svc.CreateTask(ctx, sampleRequest())
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.MessageID)
	assert.NotEmpty(t, res.Task.TaskID)
	assert.Equal(t, task.StatusQueued, res.Task.Status)

	m, err := rt.Engine().Receive(ctx, rt.Config().GroupID, time.Second)
	require.NoError(t, err)
	require.NotNil(t, m)
	got, err := task.Decode(m.Body)
	require.NoError(t, err)
	assert.Equal(t, res.Task, got)
}

func TestCreateTaskRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)

	req := sampleRequest()
	req.Priority = "urgent"
	_, err := svc.CreateTask(context.Background(), req)
	var ve *task.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "priority")
}

func TestCreateTaskSuppressesDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateTask(ctx, sampleRequest())
	require.NoError(t, err)

	// Same content, retried. Whitespace differences normalize away.
	retry := sampleRequest()
	retry.Title = "  " + retry.Title + "  "
	second, err := svc.CreateTask(ctx, retry)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Equal(t, first.Task, second.Task, "original task echoed while still queued")

	// Different content is a fresh admission.
	other := sampleRequest()
	other.Title = "Different title"
	third, err := svc.CreateTask(ctx, other)
	require.NoError(t, err)
	assert.False(t, third.Duplicate)
	assert.NotEqual(t, first.MessageID, third.MessageID)
}

func failUntilDead(t *testing.T, rt *runtime.Runtime, body []byte) {
	t.Helper()
	ctx := context.Background()
	group := rt.Config().GroupID
	if _, err := rt.Engine().Enqueue(ctx, group, body); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for i := 0; i < rt.Config().RetryBudget; i++ {
		m, err := rt.Engine().Receive(ctx, group, time.Second)
		require.NoError(t, err)
		require.NotNil(t, m)
		require.NoError(t, rt.Engine().Fail(ctx, m.ID, queue.ReasonHandlerFailed))
	}
}

func TestListDeadLettersWithFilter(t *testing.T) {
	svc, rt := newTestService(t)

	failUntilDead(t, rt, []byte(`{"priority":"high","title":"a"}`))
	failUntilDead(t, rt, []byte(`{"priority":"low","title":"b"}`))

	all, err := svc.ListDeadLetters("", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	matched, err := svc.ListDeadLetters("", `json.priority == "high"`, 0)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Contains(t, string(matched[0].Body), `"title":"a"`)

	byReason, err := svc.ListDeadLetters("", `reason == "handler failed" && receive_count >= 3`, 0)
	require.NoError(t, err)
	assert.Len(t, byReason, 2)

	none, err := svc.ListDeadLetters("", `reason == "lease expired"`, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.ListDeadLetters("", `not a valid (expression`, 0)
	assert.Error(t, err)
}

func TestStatsAndHealth(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Health(ctx))

	_, err := svc.CreateTask(ctx, sampleRequest())
	require.NoError(t, err)
	st, err := svc.Stats("")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Available)
	assert.Equal(t, 0, st.InFlight)
}

package task

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemprep/backend/internal/conjoiner"
	"github.com/chemprep/backend/internal/dataset"
	queue "github.com/chemprep/backend/internal/queue/redis"
	"github.com/chemprep/backend/internal/storage/models"
	"github.com/chemprep/backend/internal/storage/sqlite"
)

func newWorkerFixture(t *testing.T) (*Worker, *sqlite.Client, *queue.Queue) {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	q, err := queue.NewQueue(mr.Host(), port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	svc := NewService(store, q, time.Second)
	w := NewWorker(store, q, nil, svc, 10*time.Millisecond, time.Minute)
	return w, store, q
}

func claimJob(t *testing.T, q *queue.Queue, taskID string) *queue.Job {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &queue.Job{
		TaskID:      taskID,
		BundleURI:   "http://registry.example/bundle/1",
		Descriptors: []string{"EXPERIMENTAL"},
	}, 0))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func assertQueueDrained(t *testing.T, q *queue.Queue) {
	t.Helper()
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestProcessDropsRedeliveredTerminalTask(t *testing.T) {
	w, store, q := newWorkerFixture(t)
	ctx := context.Background()

	done := time.Now()
	require.NoError(t, store.UpsertTask(&models.Task{
		ID:          "t1",
		Status:      models.TaskCompleted,
		CreatedAt:   time.Now(),
		CompletedAt: &done,
		Result:      "dataset123",
	}))

	job := claimJob(t, q, "t1")
	w.process(ctx, job)

	got, err := store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.Status)
	assert.Equal(t, "dataset123", got.Result)
	assertQueueDrained(t, q)
}

func TestProcessDoesNotResurrectCancelledTask(t *testing.T) {
	w, store, q := newWorkerFixture(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertTask(&models.Task{
		ID:        "t1",
		Status:    models.TaskCancelled,
		CreatedAt: time.Now(),
	}))

	job := claimJob(t, q, "t1")
	w.process(ctx, job)

	got, err := store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, got.Status)
	assertQueueDrained(t, q)
}

func TestProcessDropsJobForUnknownTask(t *testing.T) {
	w, _, q := newWorkerFixture(t)
	ctx := context.Background()

	job := claimJob(t, q, "never-created")
	w.process(ctx, job)

	assertQueueDrained(t, q)
}

func TestCompleteDiscardsResultAfterConcurrentCancel(t *testing.T) {
	w, store, _ := newWorkerFixture(t)
	ctx := context.Background()

	// the cancel side already persisted a terminal state while the
	// preparation was still running
	require.NoError(t, store.UpsertTask(&models.Task{
		ID:        "t1",
		Status:    models.TaskCancelled,
		CreatedAt: time.Now(),
	}))

	inFlight := &models.Task{ID: "t1", Status: models.TaskRunning, CreatedAt: time.Now()}
	w.complete(ctx, inFlight, &conjoiner.Result{
		Dataset: &dataset.Dataset{ID: "late-dataset"},
	})

	got, err := store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, got.Status)
	assert.Empty(t, got.Result)

	_, err = store.GetDataset("late-dataset")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestFailKeepsCancelledStatus(t *testing.T) {
	w, store, _ := newWorkerFixture(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertTask(&models.Task{
		ID:        "t1",
		Status:    models.TaskCancelled,
		CreatedAt: time.Now(),
	}))

	inFlight := &models.Task{ID: "t1", Status: models.TaskRunning, CreatedAt: time.Now()}
	w.fail(ctx, inFlight, "UpstreamError", "boom")

	got, err := store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, got.Status)
	assert.Nil(t, got.ErrorReport)
}

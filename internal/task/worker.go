package task

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chemprep/backend/internal/conjoiner"
	"github.com/chemprep/backend/internal/dataset"
	"github.com/chemprep/backend/internal/metrics"
	queue "github.com/chemprep/backend/internal/queue/redis"
	"github.com/chemprep/backend/internal/storage/models"
	"github.com/chemprep/backend/internal/storage/sqlite"
	"github.com/chemprep/backend/pkg/logger"
)

// Worker claims preparation jobs and drives them to a terminal task state.
// It is idempotent against duplicate deliveries: a job whose task is already
// terminal is acked and dropped.
type Worker struct {
	store        *sqlite.Client
	queue        *queue.Queue
	conjoiner    *conjoiner.Conjoiner
	service      *Service
	pollInterval time.Duration
	taskDeadline time.Duration
}

func NewWorker(store *sqlite.Client, q *queue.Queue, c *conjoiner.Conjoiner, s *Service, pollInterval, taskDeadline time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	if taskDeadline <= 0 {
		taskDeadline = 30 * time.Minute
	}
	return &Worker{
		store:        store,
		queue:        q,
		conjoiner:    c,
		service:      s,
		pollInterval: pollInterval,
		taskDeadline: taskDeadline,
	}
}

// Run polls the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	logger.Info("Preparation worker started",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("task_deadline", w.taskDeadline),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Preparation worker stopped")
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			logger.Error("Failed to dequeue job", zap.Error(err))
		}
		if job == nil {
			select {
			case <-ctx.Done():
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *queue.Job) {
	task, err := w.store.GetTask(job.TaskID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			logger.Warn("Job references unknown task, dropping", zap.String("task_id", job.TaskID))
			w.ack(ctx, job.TaskID)
			return
		}
		logger.Error("Failed to load task, releasing job", zap.String("task_id", job.TaskID), zap.Error(err))
		w.nack(ctx, job.TaskID)
		return
	}

	// duplicate delivery of a finished task
	if task.Status.Terminal() {
		w.ack(ctx, job.TaskID)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, w.taskDeadline)
	defer cancel()
	w.service.cancels.register(task.ID, cancel)
	defer w.service.cancels.unregister(task.ID)

	// a cancel request racing the claim persists CANCELLED before the cancel
	// func is registered; re-read after registering so RUNNING never
	// overwrites a terminal status
	task, err = w.store.GetTask(job.TaskID)
	if err != nil {
		logger.Error("Failed to load task, releasing job", zap.String("task_id", job.TaskID), zap.Error(err))
		w.nack(ctx, job.TaskID)
		return
	}
	if task.Status.Terminal() {
		w.ack(ctx, job.TaskID)
		return
	}

	task.Status = models.TaskRunning
	if err := w.store.UpsertTask(task); err != nil {
		logger.Error("Failed to mark task running, releasing job", zap.String("task_id", task.ID), zap.Error(err))
		w.nack(ctx, job.TaskID)
		return
	}

	started := time.Now()
	result, err := w.conjoiner.Prepare(runCtx, w.jobOptions(job), func(done, total int) {
		w.reportProgress(task, done, total)
	})
	metrics.TaskDuration.Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
		w.complete(ctx, task, result)
	case ctx.Err() != nil:
		// worker shutdown, not a task failure: leave the job for another
		// worker and the task in RUNNING for redelivery recovery
		w.nack(context.Background(), job.TaskID)
	case errors.Is(err, context.DeadlineExceeded):
		w.fail(ctx, task, "Deadline", "preparation exceeded its deadline")
	case errors.Is(err, context.Canceled):
		w.cancelled(ctx, task)
	default:
		w.fail(ctx, task, "UpstreamError", err.Error())
	}
}

func (w *Worker) jobOptions(job *queue.Job) conjoiner.Options {
	gate := make(map[dataset.DescriptorCategory]bool, len(job.Descriptors))
	for _, d := range job.Descriptors {
		if cat, ok := dataset.ParseDescriptorCategory(d); ok {
			gate[cat] = true
		}
	}
	return conjoiner.Options{
		BundleURI:        job.BundleURI,
		SubjectID:        job.SubjectID,
		Descriptors:      gate,
		IntersectColumns: job.IntersectColumns,
		RetainNullValues: job.RetainNullValues,
	}
}

func (w *Worker) reportProgress(task *models.Task, done, total int) {
	if total == 0 {
		return
	}
	task.PercentageCompleted = float64(done) / float64(total)
	if err := w.store.UpsertTask(task); err != nil {
		logger.Warn("Failed to persist progress", zap.String("task_id", task.ID), zap.Error(err))
	}
}

// supersededByCancel reports whether another writer already persisted a
// terminal status for the task, which happens when a cancel request lands
// while the preparation is in flight.
func (w *Worker) supersededByCancel(taskID string) bool {
	current, err := w.store.GetTask(taskID)
	return err == nil && current.Status.Terminal()
}

func (w *Worker) complete(ctx context.Context, task *models.Task, result *conjoiner.Result) {
	if w.supersededByCancel(task.ID) {
		logger.Info("Discarding result of cancelled preparation", zap.String("task_id", task.ID))
		w.ack(ctx, task.ID)
		return
	}

	if err := w.store.UpsertDataset(result.Dataset); err != nil {
		w.fail(ctx, task, "Fatal", "failed to persist dataset: "+err.Error())
		return
	}

	now := time.Now()
	task.Status = models.TaskCompleted
	task.PercentageCompleted = 1.0
	task.Result = result.Dataset.ID
	task.CompletedAt = &now
	task.Meta.Warnings = result.Warnings

	if err := w.store.UpsertTask(task); err != nil {
		logger.Error("Failed to persist completed task", zap.String("task_id", task.ID), zap.Error(err))
	}
	w.ack(ctx, task.ID)

	metrics.TasksCompleted.WithLabelValues(string(models.TaskCompleted)).Inc()
	logger.Info("Preparation completed",
		zap.String("task_id", task.ID),
		zap.String("dataset_id", result.Dataset.ID),
		zap.Int("warnings", len(result.Warnings)),
	)
}

func (w *Worker) fail(ctx context.Context, task *models.Task, code, message string) {
	if w.supersededByCancel(task.ID) {
		w.ack(ctx, task.ID)
		return
	}

	now := time.Now()
	task.Status = models.TaskError
	task.CompletedAt = &now
	task.ErrorReport = &models.ErrorReport{Code: code, Message: message}

	if err := w.store.UpsertTask(task); err != nil {
		logger.Error("Failed to persist failed task", zap.String("task_id", task.ID), zap.Error(err))
	}
	w.ack(ctx, task.ID)

	metrics.TasksCompleted.WithLabelValues(string(models.TaskError)).Inc()
	logger.Error("Preparation failed",
		zap.String("task_id", task.ID),
		zap.String("code", code),
		zap.String("message", message),
	)
}

func (w *Worker) cancelled(ctx context.Context, task *models.Task) {
	now := time.Now()
	task.Status = models.TaskCancelled
	task.CompletedAt = &now

	if err := w.store.UpsertTask(task); err != nil {
		logger.Error("Failed to persist cancelled task", zap.String("task_id", task.ID), zap.Error(err))
	}
	w.ack(ctx, task.ID)

	metrics.TasksCompleted.WithLabelValues(string(models.TaskCancelled)).Inc()
	logger.Info("Preparation cancelled", zap.String("task_id", task.ID))
}

func (w *Worker) ack(ctx context.Context, taskID string) {
	if err := w.queue.Ack(ctx, taskID); err != nil {
		logger.Warn("Failed to ack job", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (w *Worker) nack(ctx context.Context, taskID string) {
	if err := w.queue.Nack(ctx, taskID, time.Second); err != nil {
		logger.Warn("Failed to nack job", zap.String("task_id", taskID), zap.Error(err))
	}
}

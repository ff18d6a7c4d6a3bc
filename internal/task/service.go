// Package task implements the transactional envelope around preparations:
// submit creates a QUEUED task and publishes a delayed work item; the worker
// claims items, drives the conjoiner and records the terminal state.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chemprep/backend/internal/conjoiner"
	"github.com/chemprep/backend/internal/dataset"
	"github.com/chemprep/backend/internal/metrics"
	queue "github.com/chemprep/backend/internal/queue/redis"
	"github.com/chemprep/backend/internal/storage/models"
	"github.com/chemprep/backend/internal/storage/sqlite"
	"github.com/chemprep/backend/pkg/logger"
)

// SubmitRequest mirrors the recognized preparation options.
type SubmitRequest struct {
	BundleURI        string   `json:"bundle_uri"`
	SubjectID        string   `json:"subjectid,omitempty"`
	Descriptors      []string `json:"descriptors"`
	IntersectColumns bool     `json:"intersectColumns"`
	RetainNullValues bool     `json:"retainNullValues"`
}

// cancelRegistry maps running task ids to their cancellation functions so a
// cancel request can interrupt in-flight work.
type cancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *cancelRegistry) register(taskID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[taskID] = cancel
}

func (r *cancelRegistry) unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, taskID)
}

// cancel fires the task's cancel function if it is running here. Returns
// whether a running job was signalled.
func (r *cancelRegistry) cancel(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[taskID]
	if ok {
		cancel()
	}
	return ok
}

type Service struct {
	store      *sqlite.Client
	queue      *queue.Queue
	queueDelay time.Duration
	cancels    *cancelRegistry
}

func NewService(store *sqlite.Client, q *queue.Queue, queueDelay time.Duration) *Service {
	if queueDelay < time.Second {
		queueDelay = time.Second
	}
	return &Service{
		store:      store,
		queue:      q,
		queueDelay: queueDelay,
		cancels:    newCancelRegistry(),
	}
}

// Submit validates the options, persists a QUEUED task and publishes the
// work item with the minimum delivery delay. The created task is returned to
// the caller immediately.
func (s *Service) Submit(ctx context.Context, req SubmitRequest, user string) (*models.Task, error) {
	if _, err := conjoiner.RemoteServerBase(req.BundleURI); err != nil {
		return nil, err
	}
	for _, d := range req.Descriptors {
		if _, ok := dataset.ParseDescriptorCategory(d); !ok {
			return nil, fmt.Errorf("unknown descriptor category %q", d)
		}
	}

	task := &models.Task{
		ID:    uuid.NewString(),
		Title: "Preparation on bundle: " + req.BundleURI,
		Description: "A preparation procedure will return a Dataset if completed successfully. " +
			"It may also initiate other procedures if desired.",
		Type:      models.TaskTypePreparation,
		Status:    models.TaskQueued,
		CreatedBy: user,
		CreatedAt: time.Now(),
		Visible:   true,
	}

	if err := s.store.UpsertTask(task); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	job := &queue.Job{
		TaskID:           task.ID,
		BundleURI:        req.BundleURI,
		SubjectID:        req.SubjectID,
		Descriptors:      req.Descriptors,
		IntersectColumns: req.IntersectColumns,
		RetainNullValues: req.RetainNullValues,
	}
	if err := s.queue.Enqueue(ctx, job, s.queueDelay); err != nil {
		return nil, fmt.Errorf("failed to enqueue preparation: %w", err)
	}

	metrics.TasksSubmitted.Inc()
	logger.Info("Preparation submitted",
		zap.String("task_id", task.ID),
		zap.String("bundle", req.BundleURI),
		zap.String("user", user),
	)

	return task, nil
}

func (s *Service) Get(id string) (*models.Task, error) {
	return s.store.GetTask(id)
}

func (s *Service) GetDataset(id string) (*dataset.Dataset, error) {
	return s.store.GetDataset(id)
}

// Cancel stops a task. A queued task is marked CANCELLED directly; a running
// one has its context cancelled and the worker records the terminal state.
func (s *Service) Cancel(id string) (*models.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}

	if task.Status.Terminal() {
		return task, nil
	}

	if s.cancels.cancel(id) {
		logger.Info("Cancellation signalled to running task", zap.String("task_id", id))
		return task, nil
	}

	task.Status = models.TaskCancelled
	now := time.Now()
	task.CompletedAt = &now
	if err := s.store.UpsertTask(task); err != nil {
		return nil, fmt.Errorf("failed to persist cancellation: %w", err)
	}

	metrics.TasksCompleted.WithLabelValues(string(models.TaskCancelled)).Inc()
	logger.Info("Queued task cancelled", zap.String("task_id", id))
	return task, nil
}

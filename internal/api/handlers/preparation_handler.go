package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chemprep/backend/internal/storage/sqlite"
	"github.com/chemprep/backend/internal/task"
	"github.com/chemprep/backend/pkg/logger"
)

type PreparationHandler struct {
	tasks *task.Service
}

func NewPreparationHandler(tasks *task.Service) *PreparationHandler {
	return &PreparationHandler{
		tasks: tasks,
	}
}

// SubmitPreparation accepts preparation options and returns the queued task.
func (h *PreparationHandler) SubmitPreparation(c *fiber.Ctx) error {
	var req task.SubmitRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.BundleURI == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "bundle_uri is required",
		})
	}

	user := c.Get("X-User-ID")
	if subjectID := c.Get("subjectid"); subjectID != "" && req.SubjectID == "" {
		req.SubjectID = subjectID
	}

	created, err := h.tasks.Submit(c.Context(), req, user)
	if err != nil {
		logger.Error("Failed to submit preparation", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(created)
}

func (h *PreparationHandler) GetTask(c *fiber.Ctx) error {
	id := c.Params("id")

	t, err := h.tasks.Get(id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Task not found",
			})
		}
		logger.Error("Failed to load task", zap.String("task_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load task",
		})
	}

	return c.JSON(t)
}

func (h *PreparationHandler) CancelTask(c *fiber.Ctx) error {
	id := c.Params("id")

	t, err := h.tasks.Cancel(id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Task not found",
			})
		}
		logger.Error("Failed to cancel task", zap.String("task_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to cancel task",
		})
	}

	return c.JSON(t)
}

func (h *PreparationHandler) GetDataset(c *fiber.Ctx) error {
	id := c.Params("id")

	ds, err := h.tasks.GetDataset(id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Dataset not found",
			})
		}
		logger.Error("Failed to load dataset", zap.String("dataset_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load dataset",
		})
	}

	return c.JSON(ds)
}

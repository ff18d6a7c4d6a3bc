package handlers

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/chemprep/backend/internal/task"
	"github.com/chemprep/backend/pkg/logger"
)

// WebSocketHandler streams task progress to clients watching a preparation.
type WebSocketHandler struct {
	tasks        *task.Service
	pollInterval time.Duration
}

func NewWebSocketHandler(tasks *task.Service) *WebSocketHandler {
	return &WebSocketHandler{
		tasks:        tasks,
		pollInterval: time.Second,
	}
}

type progressMessage struct {
	Type                string  `json:"type"`
	TaskID              string  `json:"task_id"`
	Status              string  `json:"status"`
	PercentageCompleted float64 `json:"percentageCompleted"`
	Result              string  `json:"result,omitempty"`
	Error               string  `json:"error,omitempty"`
}

// HandleConnection pushes progress updates for the task named in the URL
// until the task reaches a terminal state or the client goes away.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	taskID := c.Params("id")
	logger.Info("Progress stream opened", zap.String("task_id", taskID))

	defer func() {
		c.Close()
		logger.Info("Progress stream closed", zap.String("task_id", taskID))
	}()

	var lastStatus string
	var lastPct float64

	for {
		t, err := h.tasks.Get(taskID)
		if err != nil {
			c.WriteJSON(progressMessage{
				Type:   "error",
				TaskID: taskID,
				Error:  "task not found",
			})
			return
		}

		if string(t.Status) != lastStatus || t.PercentageCompleted != lastPct {
			msg := progressMessage{
				Type:                "progress",
				TaskID:              t.ID,
				Status:              string(t.Status),
				PercentageCompleted: t.PercentageCompleted,
				Result:              t.Result,
			}
			if t.ErrorReport != nil {
				msg.Error = t.ErrorReport.Message
			}
			if err := c.WriteJSON(msg); err != nil {
				return
			}
			lastStatus = string(t.Status)
			lastPct = t.PercentageCompleted
		}

		if t.Status.Terminal() {
			return
		}

		time.Sleep(h.pollInterval)
	}
}

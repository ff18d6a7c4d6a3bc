package models

import "time"

type TaskStatus string

const (
	TaskQueued    TaskStatus = "QUEUED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskError     TaskStatus = "ERROR"
	TaskCancelled TaskStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskError || s == TaskCancelled
}

type TaskType string

const TaskTypePreparation TaskType = "PREPARATION"

type ErrorReport struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TaskMeta carries non-structural annotations accumulated while the task
// runs, chiefly per-effect skip warnings.
type TaskMeta struct {
	Warnings []string `json:"warnings,omitempty"`
}

// Task is the queued-job envelope around a preparation. It is persisted as a
// document keyed by ID; every transition is an upsert of the whole record.
type Task struct {
	ID                  string       `json:"_id"`
	Title               string       `json:"title"`
	Description         string       `json:"description,omitempty"`
	Type                TaskType     `json:"type"`
	Status              TaskStatus   `json:"status"`
	PercentageCompleted float64      `json:"percentageCompleted"`
	CreatedBy           string       `json:"createdBy,omitempty"`
	CreatedAt           time.Time    `json:"createdAt"`
	CompletedAt         *time.Time   `json:"completedAt,omitempty"`
	Meta                TaskMeta     `json:"meta"`
	Result              string       `json:"result,omitempty"`
	ErrorReport         *ErrorReport `json:"errorReport,omitempty"`
	Visible             bool         `json:"visible"`
}

package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/chemprep/backend/internal/dataset"
	"github.com/chemprep/backend/internal/storage/models"
	"github.com/chemprep/backend/pkg/logger"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("record not found")

// Client is a document store over sqlite: tasks and datasets are persisted
// as JSON payloads addressable by id, with upsert-by-id semantics.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		created_by TEXT,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_created_by ON tasks(created_by);

	CREATE TABLE IF NOT EXISTS datasets (
		id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) UpsertTask(task *models.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	query := `
		INSERT INTO tasks (id, status, created_by, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	now := time.Now().Unix()
	_, err = c.db.Exec(query, task.ID, string(task.Status), task.CreatedBy, string(payload), task.CreatedAt.Unix(), now)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	logger.Debug("Task persisted", zap.String("task_id", task.ID), zap.String("status", string(task.Status)))
	return nil
}

func (c *Client) GetTask(id string) (*models.Task, error) {
	var payload string
	err := c.db.QueryRow(`SELECT payload FROM tasks WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task models.Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

func (c *Client) UpsertDataset(ds *dataset.Dataset) error {
	payload, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("failed to marshal dataset: %w", err)
	}

	query := `
		INSERT INTO datasets (id, payload, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload
	`

	_, err = c.db.Exec(query, ds.ID, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert dataset: %w", err)
	}

	logger.Debug("Dataset persisted",
		zap.String("dataset_id", ds.ID),
		zap.Int("rows", len(ds.DataEntry)),
	)
	return nil
}

func (c *Client) GetDataset(id string) (*dataset.Dataset, error) {
	var payload string
	err := c.db.QueryRow(`SELECT payload FROM datasets WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}

	var ds dataset.Dataset
	if err := json.Unmarshal([]byte(payload), &ds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	return &ds, nil
}

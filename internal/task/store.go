package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/ggonzalez94/defi-agent/internal/model"
	_ "modernc.org/sqlite"
)

// Store persists tasks in sqlite. Writes are additionally guarded with a
// file lock so concurrent CLI invocations do not interleave.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create task store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create task lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open task sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			context_id TEXT NOT NULL,
			state TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_tasks_state_updated ON tasks(state, updated_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_tasks_context ON tasks(context_id);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init task schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(t *model.Task) error {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("save task: missing task id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock task store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock task store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	updated := t.Status.Timestamp
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT INTO tasks (task_id, context_id, state, updated_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			context_id=excluded.context_id,
			state=excluded.state,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, t.ID, t.ContextID, string(t.Status.State), updated.Unix(), payload)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *Store) Get(taskID string) (*model.Task, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM tasks WHERE task_id = ?", taskID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task not found: %s", taskID)
		}
		return nil, fmt.Errorf("read task: %w", err)
	}
	var t model.Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("decode task payload: %w", err)
	}
	return &t, nil
}

func (s *Store) List(state model.TaskState, limit int) ([]*model.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if state == "" {
		rows, err = s.db.Query("SELECT payload FROM tasks ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.Query("SELECT payload FROM tasks WHERE state = ? ORDER BY updated_at DESC LIMIT ?", string(state), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*model.Task, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		var t model.Task
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, fmt.Errorf("decode task row: %w", err)
		}
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return tasks, nil
}

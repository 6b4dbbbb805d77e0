package store

import (
	"context"
	"fmt"
	"time"
)

// TaskRecord is one audit row.
type TaskRecord struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	AgentID     string     `json:"agent_id,omitempty"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Late        bool       `json:"late"`
	DurationMS  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SaveTask inserts a freshly submitted task.
func (s *Store) SaveTask(ctx context.Context, rec *TaskRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO tasks (id, task_type, priority, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Type, rec.Priority, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", rec.ID, err)
	}
	return nil
}

// SaveResult records the terminal outcome of a task.
func (s *Store) SaveResult(ctx context.Context, rec *TaskRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`UPDATE tasks SET status = $2, agent_id = $3, output = $4,
		        error = $5, error_kind = $6, late = $7,
		        duration_ms = $8, completed_at = $9
		 WHERE id = $1`,
		rec.ID, rec.Status, rec.AgentID, rec.Output,
		rec.Error, rec.ErrorKind, rec.Late,
		rec.DurationMS, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("save result %s: %w", rec.ID, err)
	}
	return nil
}

// ListTasks returns the most recent tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]*TaskRecord, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, task_type, priority, status,
		        COALESCE(agent_id, ''), COALESCE(output, ''),
		        COALESCE(error, ''), COALESCE(error_kind, ''),
		        late, COALESCE(duration_ms, 0), created_at, completed_at
		 FROM tasks ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*TaskRecord
	for rows.Next() {
		rec := &TaskRecord{}
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Priority, &rec.Status,
			&rec.AgentID, &rec.Output, &rec.Error, &rec.ErrorKind,
			&rec.Late, &rec.DurationMS, &rec.CreatedAt, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

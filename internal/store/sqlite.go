package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/agentq/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Every connection to ":memory:" is a separate database, and SQLite
	// allows one writer at a time anyway.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

func (s *SQLiteStore) Record(ctx context.Context, event model.TaskEvent) error {
	task := event.Task
	if task == nil {
		return fmt.Errorf("record event: nil task")
	}
	s.logger.Debug("sql", "op", "upsert", "table", "tasks", "id", task.ID, "status", event.Status)

	resultJSON, err := json.Marshal(task.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	metadataJSON, err := json.Marshal(task.Payload.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if task.Payload.Metadata == nil {
		metadataJSON = []byte("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (id, status, priority, resource_key, query, mode, metadata, result, error, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
		 WHERE tasks.status NOT IN ('completed', 'failed')`,
		task.ID, string(event.Status), string(task.Priority), task.ResourceKey,
		task.Payload.Query, task.Payload.Mode, string(metadataJSON),
		string(resultJSON), task.Error,
		task.CreatedAt.UTC().Format(timeFormat), formatTimePtr(task.StartedAt), formatTimePtr(task.CompletedAt),
		event.Timestamp.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", task.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", task.ID, err)
	}
	if n == 0 {
		// The task already finished; nothing after the terminal event is kept.
		s.logger.Debug("sql", "op", "skip", "table", "task_events", "id", task.ID, "status", event.Status)
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_events (task_id, status, created_at) VALUES (?, ?, ?)`,
		task.ID, string(event.Status), event.Timestamp.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert event for %s: %w", task.ID, err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	s.logger.Debug("sql", "op", "select", "table", "tasks", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return s.scanTask(row)
}

func (s *SQLiteStore) ListRecent(ctx context.Context, opts model.ListOptions) ([]*model.Task, int, error) {
	opts.Clamp()
	s.logger.Debug("sql", "op", "list", "table", "tasks", "limit", opts.Limit, "offset", opts.Offset, "status", opts.Status)

	where := ""
	var args []any
	if opts.Status != "" {
		where = " WHERE status = ?"
		args = append(args, opts.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := s.scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, task)
	}
	return tasks, total, rows.Err()
}

func (s *SQLiteStore) ListEvents(ctx context.Context, taskID string) ([]EventRecord, error) {
	s.logger.Debug("sql", "op", "list", "table", "task_events", "task_id", taskID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, status, created_at FROM task_events WHERE task_id = ? ORDER BY seq`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		var status, createdAt string
		if err := rows.Scan(&ev.TaskID, &status, &createdAt); err != nil {
			return nil, err
		}
		ev.Status = model.TaskStatus(status)
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) Forget(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "tasks", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_events WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("delete events for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return tx.Commit()
}

// timeFormat is RFC 3339 with fixed-width nanoseconds, so stored timestamps
// sort lexically in time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const taskColumns = `id, status, priority, resource_key, query, mode, metadata, result, error, created_at, started_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanTask(row scanner) (*model.Task, error) {
	var task model.Task
	var status, priority, metadataJSON, resultJSON, createdAt string
	var startedAt, completedAt *string

	err := row.Scan(
		&task.ID, &status, &priority, &task.ResourceKey,
		&task.Payload.Query, &task.Payload.Mode, &metadataJSON,
		&resultJSON, &task.Error,
		&createdAt, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task.Status = model.TaskStatus(status)
	task.Priority = model.Priority(priority)
	if err := json.Unmarshal([]byte(metadataJSON), &task.Payload.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if len(task.Payload.Metadata) == 0 {
		task.Payload.Metadata = nil
	}
	if err := json.Unmarshal([]byte(resultJSON), &task.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	task.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if startedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *startedAt)
		task.StartedAt = &t
	}
	if completedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *completedAt)
		task.CompletedAt = &t
	}

	return &task, nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeFormat)
	return &s
}

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
)

const table = "hook_executions"

const createTableSQL = `CREATE TABLE IF NOT EXISTS hook_executions (
    execution_id VARCHAR(64) PRIMARY KEY,
    hook_id VARCHAR(255) NOT NULL,
    capability VARCHAR(100) NOT NULL,
    event VARCHAR(50) NOT NULL,
    mode VARCHAR(20) NOT NULL,
    status VARCHAR(20) NOT NULL,
    required BOOLEAN NOT NULL,
    output TEXT,
    error TEXT,
    duration_ms BIGINT NOT NULL,
    retry_attempts INTEGER NOT NULL,
    started_at %[1]s NOT NULL,
    finished_at %[1]s NOT NULL%[2]s
)`

var createIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_hook_executions_hook_id ON hook_executions(hook_id)`,
	`CREATE INDEX IF NOT EXISTS idx_hook_executions_started_at ON hook_executions(started_at)`,
}

const columns = "execution_id, hook_id, capability, event, mode, status, required, output, error, duration_ms, retry_attempts, started_at, finished_at"

// SQLStore keeps entries in the hook_executions table of a PostgreSQL,
// MySQL or SQLite database.
type SQLStore struct {
	db  *sql.DB
	cfg *config.DatabaseConfig
}

// NewSQLStore creates the table and indexes when missing. The store does
// not own db.
func NewSQLStore(ctx context.Context, db *sql.DB, cfg *config.DatabaseConfig) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	s := &SQLStore{db: db, cfg: cfg}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	var stmts []string
	switch s.cfg.Dialect() {
	case "mysql":
		// MySQL has no CREATE INDEX IF NOT EXISTS.
		stmts = []string{fmt.Sprintf(createTableSQL, "DATETIME(6)",
			",\n    INDEX idx_hook_executions_hook_id (hook_id),\n    INDEX idx_hook_executions_started_at (started_at)")}
	default:
		stmts = append([]string{fmt.Sprintf(createTableSQL, "TIMESTAMP", "")}, createIndexSQL...)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Record(ctx context.Context, e Entry) error {
	placeholders := make([]string, 13)
	for i := range placeholders {
		placeholders[i] = s.cfg.Placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, columns, strings.Join(placeholders, ", "))
	_, err := s.db.ExecContext(ctx, query,
		e.ExecutionID, e.HookID, e.Capability, string(e.Event), e.Mode, string(e.Status),
		e.Required, e.Output, e.Error, e.Duration.Milliseconds(), e.RetryAttempts,
		e.StartedAt.UTC(), e.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", e.ExecutionID, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, s.cfg.Placeholder(len(args))))
	}
	if q.HookID != "" {
		add("hook_id = %s", q.HookID)
	}
	if q.Event != "" {
		add("event = %s", string(q.Event))
	}
	if q.Status != "" {
		add("status = %s", string(q.Status))
	}
	if !q.Since.IsZero() {
		add("started_at >= %s", q.Since.UTC())
	}

	query := fmt.Sprintf("SELECT %s FROM %s", columns, table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT %d", q.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			event, status     string
			output, errText   sql.NullString
			durationMS        int64
			started, finished time.Time
		)
		if err := rows.Scan(&e.ExecutionID, &e.HookID, &e.Capability, &event, &e.Mode, &status,
			&e.Required, &output, &errText, &durationMS, &e.RetryAttempts, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.Event = hooks.EventType(event)
		e.Status = executor.Status(status)
		e.Output = output.String
		e.Error = errText.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.StartedAt = started.UTC()
		e.FinishedAt = finished.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) Stats(ctx context.Context) (Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT status, COUNT(*), COALESCE(SUM(duration_ms), 0) FROM %s GROUP BY status", table))
	if err != nil {
		return Summary{}, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var (
		sum     Summary
		totalMS int64
	)
	for rows.Next() {
		var (
			status string
			count  int
			ms     int64
		)
		if err := rows.Scan(&status, &count, &ms); err != nil {
			return Summary{}, fmt.Errorf("failed to scan stats: %w", err)
		}
		sum.add(executor.Status(status), count)
		totalMS += ms
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}
	if sum.Total > 0 {
		sum.AverageDuration = time.Duration(totalMS/int64(sum.Total)) * time.Millisecond
	}
	return sum, nil
}

// Close is a no-op; the connection belongs to the pool.
func (s *SQLStore) Close() error { return nil }

var _ Store = (*SQLStore)(nil)

// Package history keeps a record of finished hook executions.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
	"github.com/kadirpekel/hookd/pkg/hooks/manager"
)

const (
	// DefaultLimit bounds List when a query sets no limit.
	DefaultLimit = 100

	// MaxOutputBytes caps the output kept per entry.
	MaxOutputBytes = 4096

	recordTimeout = 5 * time.Second
)

// Entry is one recorded execution.
type Entry struct {
	ExecutionID   string          `json:"execution_id"`
	HookID        string          `json:"hook_id"`
	Capability    string          `json:"capability"`
	Event         hooks.EventType `json:"event"`
	Mode          string          `json:"mode"`
	Status        executor.Status `json:"status"`
	Required      bool            `json:"required"`
	Output        string          `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
	Duration      time.Duration   `json:"duration"`
	RetryAttempts int             `json:"retry_attempts"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// EntryFromResult converts an execution result.
func EntryFromResult(r executor.Result) Entry {
	output := r.Output
	if len(output) > MaxOutputBytes {
		output = output[:MaxOutputBytes]
	}
	started := r.StartedAt.UTC()
	return Entry{
		ExecutionID:   r.ExecutionID,
		HookID:        r.HookID,
		Capability:    r.Capability,
		Event:         r.Event,
		Mode:          r.Mode.String(),
		Status:        r.Status(),
		Required:      r.Required,
		Output:        output,
		Error:         r.Error,
		Duration:      r.Duration,
		RetryAttempts: r.RetryAttempts,
		StartedAt:     started,
		FinishedAt:    started.Add(r.Duration),
	}
}

// Query filters List. Zero fields match everything.
type Query struct {
	HookID string
	Event  hooks.EventType
	Status executor.Status
	Since  time.Time
	Limit  int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

func (q Query) matches(e Entry) bool {
	if q.HookID != "" && e.HookID != q.HookID {
		return false
	}
	if q.Event != "" && e.Event != q.Event {
		return false
	}
	if q.Status != "" && e.Status != q.Status {
		return false
	}
	if !q.Since.IsZero() && e.StartedAt.Before(q.Since) {
		return false
	}
	return true
}

// Summary aggregates every stored entry.
type Summary struct {
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Cancelled       int           `json:"cancelled"`
	AverageDuration time.Duration `json:"average_duration"`
}

func (s *Summary) add(status executor.Status, n int) {
	s.Total += n
	switch status {
	case executor.StatusSuccess:
		s.Successful += n
	case executor.StatusCancelled:
		s.Cancelled += n
	default:
		s.Failed += n
	}
}

// Store persists entries. List returns the newest entries first.
type Store interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, q Query) ([]Entry, error)
	Stats(ctx context.Context) (Summary, error)
	Close() error
}

// New creates the store selected by cfg. The sql backend draws its
// connection from pool.
func New(ctx context.Context, cfg config.HistoryConfig, pool *config.DBPool, databases map[string]*config.DatabaseConfig) (Store, error) {
	switch cfg.Backend {
	case config.HistoryBackendSQL:
		dbCfg, ok := databases[cfg.Database]
		if !ok || dbCfg == nil {
			return nil, fmt.Errorf("unknown database %q", cfg.Database)
		}
		db, err := pool.Get(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		return NewSQLStore(ctx, db, dbCfg)
	case config.HistoryBackendMemory, "":
		return NewMemoryStore(cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("invalid history backend %q", cfg.Backend)
	}
}

// Recorder writes every finished execution to a Store.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a recorder. A nil logger uses slog.Default.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// ExecutionFinished records r. The write outlives cancellation of the
// triggering context.
func (r *Recorder) ExecutionFinished(ctx context.Context, res executor.Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.store.Record(ctx, EntryFromResult(res)); err != nil {
		r.logger.Warn("Failed to record hook execution",
			"hook", res.HookID, "execution_id", res.ExecutionID, "error", err)
	}
}

func (r *Recorder) TriggerFinished(context.Context, hooks.Event, executor.AggregatedResult, error) {}

var _ manager.Observer = (*Recorder)(nil)

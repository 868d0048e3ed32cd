// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package database runs SQL statements from hooks against configured
// databases.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
)

// Type is the capability label hooks use to select this capability.
const Type = "database"

// maxRows bounds how many rows a query hook returns.
const maxRows = 1000

var paramPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Settings are the per-hook settings of a database hook.
//
// Example:
//
//	settings:
//	  database: audit
//	  query: INSERT INTO events (kind, session) VALUES (${kind}, ${session})
//	  parameters:
//	    kind: task_start
//	    session: abc
type Settings struct {
	// Database names an entry of capabilities.databases.
	Database string `yaml:"database"`

	// Driver and DSN define an inline connection instead.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	Query      string         `yaml:"query"`
	Parameters map[string]any `yaml:"parameters"`
}

// Capability executes SQL.
type Capability struct {
	pool      *config.DBPool
	databases map[string]*config.DatabaseConfig
}

// New creates a database capability over pool. Named databases come from
// the capabilities config.
func New(pool *config.DBPool, databases map[string]*config.DatabaseConfig) *Capability {
	if pool == nil {
		pool = config.NewDBPool()
	}
	return &Capability{pool: pool, databases: databases}
}

func (c *Capability) Type() string { return Type }

// CanExecute accepts hooks that carry a query.
func (c *Capability) CanExecute(hc hooks.Context) bool {
	_, ok := hc.Setting("query")
	return ok
}

// Prepare validates the settings and that every placeholder has a value.
func (c *Capability) Prepare(_ context.Context, hc hooks.Context) error {
	s, err := decode(hc)
	if err != nil {
		return err
	}
	dbCfg, err := c.resolve(s)
	if err != nil {
		return err
	}
	_, _, err = Bind(s.Query, s.Parameters, dbCfg)
	return err
}

// Execute runs the statement once.
func (c *Capability) Execute(ctx context.Context, hc hooks.Context) (executor.Outcome, error) {
	start := time.Now()

	s, err := decode(hc)
	if err != nil {
		return executor.Outcome{}, err
	}
	dbCfg, err := c.resolve(s)
	if err != nil {
		return executor.Outcome{}, err
	}
	query, args, err := Bind(s.Query, s.Parameters, dbCfg)
	if err != nil {
		return executor.Outcome{}, err
	}

	db, err := c.pool.Get(ctx, dbCfg)
	if err != nil {
		return executor.Failed(err.Error(), time.Since(start)), nil
	}

	slog.Debug("Running database hook", "hook", hc.Hook.ID, "database", dbCfg.String())

	if returnsRows(query) {
		rows, err := queryRows(ctx, db, query, args)
		if err != nil {
			return executor.Failed(fmt.Sprintf("query failed: %v", err), time.Since(start)), nil
		}
		data, err := json.Marshal(rows)
		if err != nil {
			return executor.Outcome{}, fmt.Errorf("failed to encode rows: %w", err)
		}
		out := executor.Succeeded(string(data), time.Since(start))
		out.Metadata = map[string]any{"rows": len(rows)}
		return out, nil
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return executor.Failed(fmt.Sprintf("statement failed: %v", err), time.Since(start)), nil
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = -1
	}
	out := executor.Succeeded(fmt.Sprintf("%d rows affected", affected), time.Since(start))
	out.Metadata = map[string]any{"rows_affected": affected}
	return out, nil
}

// EstimatedDuration is a scheduling hint.
func (c *Capability) EstimatedDuration() time.Duration { return 500 * time.Millisecond }

// DefaultConfig retries once; statements are not assumed idempotent.
func (c *Capability) DefaultConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.Timeout = 15 * time.Second
	cfg.MaxRetries = 1
	return cfg
}

// Close closes every pooled connection.
func (c *Capability) Close() error {
	return c.pool.Close()
}

func (c *Capability) resolve(s Settings) (*config.DatabaseConfig, error) {
	if s.Database != "" {
		dbCfg, ok := c.databases[s.Database]
		if !ok || dbCfg == nil {
			return nil, fmt.Errorf("unknown database %q", s.Database)
		}
		return dbCfg, nil
	}
	dbCfg := &config.DatabaseConfig{Driver: s.Driver, DSN: s.DSN}
	if dbCfg.DSN == "" {
		return nil, errors.New("either database or driver and dsn are required")
	}
	dbCfg.SetDefaults()
	if err := dbCfg.Validate(); err != nil {
		return nil, err
	}
	return dbCfg, nil
}

// Bind replaces ${name} references with the dialect's bind placeholders
// and returns the matching arguments in order.
func Bind(query string, params map[string]any, dbCfg *config.DatabaseConfig) (string, []any, error) {
	var (
		args    []any
		missing []string
	)
	bound := paramPattern.ReplaceAllStringFunc(query, func(match string) string {
		name := paramPattern.FindStringSubmatch(match)[1]
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		args = append(args, v)
		return dbCfg.Placeholder(len(args))
	})
	if len(missing) > 0 {
		return "", nil, fmt.Errorf("missing parameters: %s", strings.Join(missing, ", "))
	}
	return bound, args, nil
}

func returnsRows(query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "SHOW", "EXPLAIN", "PRAGMA", "VALUES", "DESCRIBE":
		return true
	}
	return strings.Contains(strings.ToUpper(query), " RETURNING ")
}

func queryRows(ctx context.Context, db *sql.DB, query string, args []any) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0)
	for rows.Next() && len(out) < maxRows {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func decode(hc hooks.Context) (Settings, error) {
	var s Settings
	if err := config.DecodeSettings(hc.Hook.Settings, &s); err != nil {
		return s, fmt.Errorf("invalid database settings: %w", err)
	}
	if strings.TrimSpace(s.Query) == "" {
		return s, errors.New("query is required")
	}
	return s, nil
}

var (
	_ executor.Capability = (*Capability)(nil)
	_ executor.Preparer   = (*Capability)(nil)
	_ executor.Hinter     = (*Capability)(nil)
)

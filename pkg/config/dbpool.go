// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DBPool shares *sql.DB handles by driver and connection string.
// SQLite handles are limited to a single connection so writers never see
// "database is locked".
type DBPool struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

// NewDBPool creates an empty pool.
func NewDBPool() *DBPool {
	return &DBPool{pools: make(map[string]*sql.DB)}
}

// Get returns the shared handle for cfg, opening and pinging it on first
// use.
func (p *DBPool) Get(ctx context.Context, cfg *DatabaseConfig) (*sql.DB, error) {
	key := cfg.DriverName() + "|" + cfg.ConnectionString()

	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.pools[key]; ok {
		return db, nil
	}

	db, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.pools[key] = db
	slog.Debug("Opened database", "database", cfg.String())
	return db, nil
}

func open(ctx context.Context, cfg *DatabaseConfig) (*sql.DB, error) {
	driverName := cfg.DriverName()

	db, err := sql.Open(driverName, cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MaxIdle > 0 {
			db.SetMaxIdleConns(cfg.MaxIdle)
		}
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.String(), err)
	}

	if driverName == "sqlite3" {
		if _, err := db.ExecContext(pingCtx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("Failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(pingCtx, "PRAGMA busy_timeout=10000"); err != nil {
			slog.Warn("Failed to set busy timeout", "error", err)
		}
	}
	return db, nil
}

// Len returns the number of open handles.
func (p *DBPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pools)
}

// Close closes every handle.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for key, db := range p.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", MaskDSN(key), err))
		}
	}
	p.pools = make(map[string]*sql.DB)
	return errors.Join(errs...)
}

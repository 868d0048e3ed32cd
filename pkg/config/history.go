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

package config

import "fmt"

const (
	HistoryBackendMemory = "memory"
	HistoryBackendSQL    = "sql"

	DefaultHistoryEntries = 1000
)

// HistoryConfig configures the execution history store.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Backend is "memory" or "sql". Default: memory
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"enum=memory,enum=sql,default=memory"`

	// MaxEntries bounds the memory backend. Default: 1000
	MaxEntries int `yaml:"max_entries,omitempty" json:"max_entries,omitempty" jsonschema:"minimum=1"`

	// Database names an entry of capabilities.databases for the sql backend.
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
}

// SetDefaults applies default values to HistoryConfig.
func (c *HistoryConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = HistoryBackendMemory
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = DefaultHistoryEntries
	}
}

// Validate checks HistoryConfig.
func (c *HistoryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Backend {
	case HistoryBackendMemory:
		if c.MaxEntries < 1 {
			return fmt.Errorf("max_entries must be positive")
		}
	case HistoryBackendSQL:
		if c.Database == "" {
			return fmt.Errorf("database is required for the sql backend")
		}
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, sql)", c.Backend)
	}
	return nil
}

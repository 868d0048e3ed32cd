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

package executor

import (
	"time"

	"github.com/kadirpekel/hookd/pkg/hooks"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultRetryDelay = 500 * time.Millisecond
)

// Config controls how a single execution is attempted.
type Config struct {
	Timeout    time.Duration  `json:"timeout" yaml:"timeout"`
	Mode       hooks.Mode     `json:"mode" yaml:"mode"`
	Priority   hooks.Priority `json:"priority" yaml:"priority"`
	Required   bool           `json:"required" yaml:"required"`
	MaxRetries int            `json:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration  `json:"retry_delay" yaml:"retry_delay"`
	// Isolated runs each attempt on its own goroutine so a capability that
	// ignores its context cannot hold up the caller past the timeout.
	Isolated bool `json:"isolated" yaml:"isolated"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:    DefaultTimeout,
		Mode:       hooks.ModeAsync,
		Priority:   hooks.PriorityNormal,
		MaxRetries: 0,
		RetryDelay: DefaultRetryDelay,
		Isolated:   true,
	}
}

// ConfigFor resolves the execution config of a hook. Mode, priority,
// required and max retries always come from the definition; timeout and
// retry delay fall back to base when the definition leaves them zero.
func ConfigFor(def hooks.Definition, base Config) Config {
	cfg := base
	cfg.Mode = def.Mode
	cfg.Priority = def.Priority
	cfg.Required = def.Required
	cfg.MaxRetries = def.MaxRetries
	if def.Timeout > 0 {
		cfg.Timeout = def.Timeout
	}
	if def.RetryDelay > 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	return cfg
}

// WorstCase returns the longest wall time an execution can take:
// timeout × (retries+1) + delay × retries.
func (c Config) WorstCase() time.Duration {
	attempts := time.Duration(c.MaxRetries + 1)
	return c.Timeout*attempts + c.RetryDelay*time.Duration(c.MaxRetries)
}

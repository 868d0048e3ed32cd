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

import (
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
)

// HooksConfig configures the hook manager and lists the hooks.
type HooksConfig struct {
	// Enabled turns event handling on. Default: true
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// WorkingDir is captured in every event snapshot. Default: process cwd.
	WorkingDir string `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`

	// MaxWorkers bounds concurrently running hooks. Default: 64
	MaxWorkers int `yaml:"max_workers,omitempty" json:"max_workers,omitempty" jsonschema:"minimum=1,default=64"`

	// Environment is passed to every hook.
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`

	Defaults    DefaultsConfig `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Definitions []HookConfig   `yaml:"definitions,omitempty" json:"definitions,omitempty"`
}

// DefaultsConfig holds execution settings applied to hooks that leave them
// unset.
type DefaultsConfig struct {
	Timeout    time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"default=30s"`
	RetryDelay time.Duration `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty" jsonschema:"default=500ms"`
	MaxRetries int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"minimum=0"`
	Mode       string        `yaml:"mode,omitempty" json:"mode,omitempty" jsonschema:"enum=blocking,enum=async,enum=fire_and_forget,default=async"`
	Isolated   *bool         `yaml:"isolated,omitempty" json:"isolated,omitempty"`
}

// HookConfig is one hook as written in the configuration document.
type HookConfig struct {
	ID          string            `yaml:"id,omitempty" json:"id,omitempty"`
	Event       string            `yaml:"event" json:"event"`
	Type        string            `yaml:"type" json:"type"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Mode        string            `yaml:"mode,omitempty" json:"mode,omitempty" jsonschema:"enum=blocking,enum=async,enum=fire_and_forget"`
	Priority    string            `yaml:"priority,omitempty" json:"priority,omitempty" jsonschema:"description=critical high normal low lowest or an integer (lower runs first)"`
	Required    bool              `yaml:"required,omitempty" json:"required,omitempty"`
	Parallel    bool              `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	MaxRetries  *int              `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"minimum=0"`
	Timeout     time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	RetryDelay  time.Duration     `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
	WorkingDir  string            `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
	Settings    map[string]any    `yaml:"settings,omitempty" json:"settings,omitempty"`
	Disabled    bool              `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// SetDefaults applies default values to HooksConfig.
func (c *HooksConfig) SetDefaults() {
	if c.Enabled == nil {
		enabled := true
		c.Enabled = &enabled
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = executor.DefaultMaxWorkers
	}
	c.Defaults.SetDefaults()
}

// Validate checks every hook definition.
func (c *HooksConfig) Validate() error {
	var errs []error
	if c.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("max_workers must be non-negative"))
	}
	if err := c.Defaults.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("defaults: %w", err))
	}

	seen := make(map[string]int)
	for i, h := range c.Definitions {
		def, err := h.Definition(c.Defaults)
		if err != nil {
			errs = append(errs, fmt.Errorf("definitions[%d]: %w", i, err))
			continue
		}
		if def.ID == "" {
			continue
		}
		if j, dup := seen[def.ID]; dup {
			errs = append(errs, fmt.Errorf("definitions[%d]: hook id %q already used by definitions[%d]", i, def.ID, j))
			continue
		}
		seen[def.ID] = i
	}
	return errors.Join(errs...)
}

// IsEnabled reports whether hooks are enabled.
func (c *HooksConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// HookDefinitions converts the enabled hook entries to definitions.
func (c *HooksConfig) HookDefinitions() ([]hooks.Definition, error) {
	defs := make([]hooks.Definition, 0, len(c.Definitions))
	for i, h := range c.Definitions {
		if h.Disabled {
			continue
		}
		def, err := h.Definition(c.Defaults)
		if err != nil {
			return nil, fmt.Errorf("definitions[%d]: %w", i, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// SetDefaults applies default values to DefaultsConfig.
func (c *DefaultsConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = executor.DefaultTimeout
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = executor.DefaultRetryDelay
	}
	if c.Isolated == nil {
		isolated := true
		c.Isolated = &isolated
	}
}

// Validate checks DefaultsConfig.
func (c *DefaultsConfig) Validate() error {
	if c.Timeout < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("timeout and retry_delay must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if _, err := hooks.ParseMode(c.Mode); err != nil {
		return err
	}
	return nil
}

// ExecutorConfig returns the base execution config for the manager.
func (c *DefaultsConfig) ExecutorConfig() executor.Config {
	cfg := executor.DefaultConfig()
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	if c.RetryDelay > 0 {
		cfg.RetryDelay = c.RetryDelay
	}
	cfg.MaxRetries = c.MaxRetries
	if c.Isolated != nil {
		cfg.Isolated = *c.Isolated
	}
	return cfg
}

// Definition converts the entry into a validated hook definition. Mode and
// max retries fall back to defaults; priority falls back to normal.
func (h HookConfig) Definition(defaults DefaultsConfig) (hooks.Definition, error) {
	event, err := hooks.ParseEventType(h.Event)
	if err != nil {
		return hooks.Definition{}, err
	}

	modeName := h.Mode
	if modeName == "" {
		modeName = defaults.Mode
	}
	mode, err := hooks.ParseMode(modeName)
	if err != nil {
		return hooks.Definition{}, err
	}

	priority, err := hooks.ParsePriority(h.Priority)
	if err != nil {
		return hooks.Definition{}, err
	}

	retries := defaults.MaxRetries
	if h.MaxRetries != nil {
		retries = *h.MaxRetries
	}

	def := hooks.Definition{
		ID:          h.ID,
		Event:       event,
		Type:        h.Type,
		Description: h.Description,
		Mode:        mode,
		Priority:    priority,
		Required:    h.Required,
		Parallel:    h.Parallel,
		DependsOn:   h.DependsOn,
		MaxRetries:  retries,
		Timeout:     h.Timeout,
		RetryDelay:  h.RetryDelay,
		WorkingDir:  h.WorkingDir,
		Environment: h.Environment,
		Settings:    h.Settings,
	}
	if err := def.Validate(); err != nil {
		return hooks.Definition{}, err
	}
	return def.Clone(), nil
}

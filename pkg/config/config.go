// Package config defines the hookd configuration document and loads it from
// files or remote key/value stores.
package config

import (
	"errors"
	"fmt"

	"github.com/kadirpekel/hookd/pkg/observability"
)

// CurrentVersion is the configuration document version this build reads.
const CurrentVersion = "1"

// Config is the root configuration document.
type Config struct {
	Version string `yaml:"version,omitempty" json:"version,omitempty" jsonschema:"default=1"`
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`

	Logger        LoggerConfig         `yaml:"logger,omitempty" json:"logger,omitempty"`
	Hooks         HooksConfig          `yaml:"hooks" json:"hooks"`
	Capabilities  CapabilitiesConfig   `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	History       HistoryConfig        `yaml:"history,omitempty" json:"history,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty" json:"observability,omitempty"`
	Server        ServerConfig         `yaml:"server,omitempty" json:"server,omitempty"`
}

// SetDefaults applies default values to every section.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = CurrentVersion
	}
	c.Logger.SetDefaults()
	c.Hooks.SetDefaults()
	c.Capabilities.SetDefaults()
	c.History.SetDefaults()
	c.Observability.SetDefaults()
	c.Server.SetDefaults()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Version != CurrentVersion {
		errs = append(errs, fmt.Errorf("unsupported config version %q (expected %q)", c.Version, CurrentVersion))
	}
	if err := c.Logger.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logger: %w", err))
	}
	if err := c.Hooks.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("hooks: %w", err))
	}
	if err := c.Capabilities.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("capabilities: %w", err))
	}
	if err := c.History.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("history: %w", err))
	}
	if c.History.Enabled && c.History.Backend == HistoryBackendSQL {
		if _, ok := c.Capabilities.Databases[c.History.Database]; !ok {
			errs = append(errs, fmt.Errorf("history: database %q is not defined under capabilities.databases", c.History.Database))
		}
	}
	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	return errors.Join(errs...)
}

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
	"fmt"

	"github.com/kadirpekel/hookd/pkg/logger"
)

// LoggerConfig configures logging.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-file, --log-format)
//  2. Environment variables (LOG_LEVEL, LOG_FILE, LOG_FORMAT)
//  3. Config file (logger section)
//  4. Defaults (info level, simple format, stderr)
type LoggerConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`

	// File is the log file path. Empty logs to stderr.
	File string `yaml:"file,omitempty" json:"file,omitempty"`

	// Format is simple, verbose or json. Default: simple
	Format string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"enum=simple,enum=verbose,enum=json,default=simple"`
}

// SetDefaults applies default values to LoggerConfig.
func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = logger.FormatSimple
	}
}

// Validate checks the logger configuration.
func (c *LoggerConfig) Validate() error {
	if _, err := logger.ParseLevel(c.Level); err != nil {
		return err
	}
	if !logger.ValidFormat(c.Format) {
		return fmt.Errorf("invalid log format %q (valid: simple, verbose, json)", c.Format)
	}
	return nil
}

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

package main

import (
	"fmt"
	"os"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/logger"
)

const (
	LogFileEnvVar   = "LOG_FILE"
	LogLevelEnvVar  = "LOG_LEVEL"
	LogFormatEnvVar = "LOG_FORMAT"
)

// logSetting resolves one logger setting.
// Priority: CLI flag > env var > config file > fallback.
func logSetting(flag, envVar, fromConfig, fallback string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if fromConfig != "" {
		return fromConfig
	}
	return fallback
}

// initLogger installs the default logger. It runs once before the config
// is loaded and again afterwards so the logger section can apply.
func (cli *CLI) initLogger(cfg *config.LoggerConfig) error {
	var fromCfg config.LoggerConfig
	if cfg != nil {
		fromCfg = *cfg
	}

	levelStr := logSetting(cli.LogLevel, LogLevelEnvVar, fromCfg.Level, "info")
	file := logSetting(cli.LogFile, LogFileEnvVar, fromCfg.File, "")
	format := logSetting(cli.LogFormat, LogFormatEnvVar, fromCfg.Format, logger.FormatSimple)

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if !logger.ValidFormat(format) {
		return fmt.Errorf("invalid log format %q", format)
	}

	output := os.Stderr
	if file != "" {
		f, cleanup, err := logger.OpenLogFile(file)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		if cli.cleanup != nil {
			cli.cleanup()
		}
		output, cli.cleanup = f, cleanup
	}

	logger.Init(level, output, format)
	return nil
}

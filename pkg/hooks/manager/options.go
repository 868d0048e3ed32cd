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

package manager

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/hookd/pkg/hooks/executor"
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	workingDir  string
	environment map[string]string
	logger      *slog.Logger
	coordinator *executor.Coordinator
	maxWorkers  int
	defaults    executor.Config
	observers   []Observer
	tracer      trace.Tracer
	enabled     bool
}

func defaultOptions() options {
	return options{
		maxWorkers: executor.DefaultMaxWorkers,
		defaults:   executor.DefaultConfig(),
		enabled:    true,
	}
}

// WithWorkingDir sets the working directory captured in every snapshot.
func WithWorkingDir(dir string) Option {
	return func(o *options) { o.workingDir = dir }
}

// WithEnvironment sets the base environment handed to every hook.
func WithEnvironment(env map[string]string) Option {
	return func(o *options) {
		o.environment = make(map[string]string, len(env))
		for k, v := range env {
			o.environment[k] = v
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCoordinator uses an existing coordinator instead of creating one.
// The manager installs its own completion callback on it.
func WithCoordinator(c *executor.Coordinator) Option {
	return func(o *options) { o.coordinator = c }
}

// WithMaxWorkers bounds concurrent executions of the internal coordinator.
func WithMaxWorkers(n int) Option {
	return func(o *options) { o.maxWorkers = n }
}

// WithDefaults sets the execution config used for fields a definition
// leaves unset.
func WithDefaults(cfg executor.Config) Option {
	return func(o *options) { o.defaults = cfg }
}

// WithObserver registers an observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithTracer sets the tracer used for trigger spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithEnabled sets the initial enabled state.
func WithEnabled(enabled bool) Option {
	return func(o *options) { o.enabled = enabled }
}

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

// Package executor runs hook capabilities with retries, timeouts and
// cooperative cancellation, and coordinates batches of executions.
package executor

import (
	"context"
	"time"

	"github.com/kadirpekel/hookd/pkg/hooks"
)

// Outcome is what a capability reports for one invocation.
type Outcome struct {
	Success  bool           `json:"success"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Succeeded builds a successful outcome.
func Succeeded(output string, d time.Duration) Outcome {
	return Outcome{Success: true, Output: output, Duration: d}
}

// Failed builds a failed outcome.
func Failed(msg string, d time.Duration) Outcome {
	return Outcome{Success: false, Error: msg, Duration: d}
}

// Capability is the unit of work a hook invokes. Implementations must be
// safe for concurrent use: the coordinator calls Execute from many
// goroutines at once.
type Capability interface {
	// Type returns the label hook definitions use to select this capability.
	Type() string

	// CanExecute reports whether the capability accepts the hook context.
	CanExecute(hc hooks.Context) bool

	// Execute performs one attempt. A non-nil error and an unsuccessful
	// Outcome are both treated as a failed attempt.
	Execute(ctx context.Context, hc hooks.Context) (Outcome, error)
}

// Preparer is implemented by capabilities that need to set up before an
// attempt sequence. A Prepare error fails the execution without running it.
type Preparer interface {
	Prepare(ctx context.Context, hc hooks.Context) error
}

// Cleaner is implemented by capabilities that release resources after an
// attempt sequence. Cleanup errors are logged and otherwise ignored.
type Cleaner interface {
	Cleanup(ctx context.Context, hc hooks.Context) error
}

// Hinter exposes scheduling hints.
type Hinter interface {
	EstimatedDuration() time.Duration
	DefaultConfig() Config
}

// CapabilityFunc adapts a function into a Capability that accepts every
// context.
type CapabilityFunc struct {
	Label string
	Fn    func(ctx context.Context, hc hooks.Context) (Outcome, error)
}

func (f CapabilityFunc) Type() string { return f.Label }

func (f CapabilityFunc) CanExecute(hooks.Context) bool { return true }

func (f CapabilityFunc) Execute(ctx context.Context, hc hooks.Context) (Outcome, error) {
	return f.Fn(ctx, hc)
}

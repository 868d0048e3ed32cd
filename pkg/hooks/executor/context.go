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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/hookd/pkg/hooks"
)

// ExecutionContext is the per-execution state handed to the retry wrapper.
// The cancellation flag is shared: copies of the pointer observe the same
// flag, and Cancel may be called from any goroutine.
type ExecutionContext struct {
	ID        string
	Hook      hooks.Context
	Config    Config
	StartedAt time.Time

	cancel *cancelFlag
}

type cancelFlag struct {
	once sync.Once
	done chan struct{}
}

func (f *cancelFlag) set() {
	f.once.Do(func() { close(f.done) })
}

func (f *cancelFlag) isSet() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// NewExecutionContext creates a context with a fresh execution id.
func NewExecutionContext(hc hooks.Context, cfg Config) *ExecutionContext {
	return &ExecutionContext{
		ID:        uuid.NewString(),
		Hook:      hc,
		Config:    cfg,
		StartedAt: time.Now(),
		cancel:    &cancelFlag{done: make(chan struct{})},
	}
}

// Cancel sets the cancellation flag. Work already running is not
// interrupted; the flag is checked before each attempt and during retry
// delays.
func (c *ExecutionContext) Cancel() {
	c.cancel.set()
}

// Cancelled reports whether Cancel was called.
func (c *ExecutionContext) Cancelled() bool {
	return c.cancel.isSet()
}

// Done is closed once the execution is cancelled.
func (c *ExecutionContext) Done() <-chan struct{} {
	return c.cancel.done
}

// Elapsed returns the time since the context was created.
func (c *ExecutionContext) Elapsed() time.Duration {
	return time.Since(c.StartedAt)
}

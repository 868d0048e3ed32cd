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

package hooks

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrCircularDependency = errors.New("circular dependency")
	ErrMissingDependency  = errors.New("missing dependency")
	ErrUnknownCapability  = errors.New("unknown capability")
	ErrInvalidDefinition  = errors.New("invalid hook definition")
	ErrDuplicateHook      = errors.New("duplicate hook id")
	ErrHookNotFound       = errors.New("hook not found")
	ErrTimeout            = errors.New("timed out")
	ErrDisabled           = errors.New("hooks are disabled")
)

// ConfigurationError reports a problem in the hook setup. It is raised
// synchronously at setup or plan time and is never retried.
type ConfigurationError struct {
	HookID string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.HookID != "" {
		fmt.Fprintf(&b, " for hook %q", e.HookID)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil && (e.Reason == "" || !strings.Contains(e.Reason, e.Err.Error())) {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err contains a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

func invalidDefinition(id, reason string) error {
	return &ConfigurationError{HookID: id, Reason: reason, Err: ErrInvalidDefinition}
}

// ExecutionError wraps the last failure of a hook after its retry budget
// was spent.
type ExecutionError struct {
	HookID   string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("hook %q failed after %d attempts: %v", e.HookID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("hook %q failed: %v", e.HookID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// RequiredHookError is the single error surfaced by a trigger when one or
// more required hooks failed.
type RequiredHookError struct {
	Event   EventType
	Failed  []string
	Reasons map[string]string
}

func (e *RequiredHookError) Error() string {
	ids := make([]string, len(e.Failed))
	copy(ids, e.Failed)
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if reason := e.Reasons[id]; reason != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", id, reason))
		} else {
			parts = append(parts, id)
		}
	}
	return fmt.Sprintf("required hooks failed for event %s: %s", e.Event, strings.Join(parts, ", "))
}

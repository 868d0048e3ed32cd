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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mode controls how a hook runs once it is eligible to start.
type Mode int

const (
	// ModeAsync runs the hook concurrently with its level siblings.
	ModeAsync Mode = iota
	// ModeBlocking halts forward progress until the hook returns.
	ModeBlocking
	// ModeFireAndForget launches the hook detached; it is never awaited.
	ModeFireAndForget
)

func (m Mode) String() string {
	switch m {
	case ModeBlocking:
		return "blocking"
	case ModeAsync:
		return "async"
	case ModeFireAndForget:
		return "fire_and_forget"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Tracked reports whether results of this mode are awaited and aggregated.
func (m Mode) Tracked() bool {
	return m == ModeBlocking || m == ModeAsync
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode converts a string to a Mode. Empty input yields ModeAsync.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "async":
		return ModeAsync, nil
	case "blocking", "sync":
		return ModeBlocking, nil
	case "fire_and_forget", "fire-and-forget", "fireandforget":
		return ModeFireAndForget, nil
	default:
		return ModeAsync, fmt.Errorf("unknown execution mode: %q", s)
	}
}

// Priority orders hooks that become ready together; lower values run first.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 25
	PriorityNormal   Priority = 50
	PriorityLow      Priority = 75
	PriorityLowest   Priority = 100
)

// ParsePriority accepts a named priority or an integer.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "lowest":
		return PriorityLowest, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return PriorityNormal, fmt.Errorf("invalid priority: %q", s)
	}
	return Priority(n), nil
}

// Definition describes one configured hook. Once inserted into a graph a
// definition is treated as immutable; the graph keeps its own clone.
type Definition struct {
	ID          string            `json:"id" yaml:"id"`
	Event       EventType         `json:"event" yaml:"event"`
	Type        string            `json:"type" yaml:"type"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Mode        Mode              `json:"mode" yaml:"mode"`
	Priority    Priority          `json:"priority" yaml:"priority"`
	Required    bool              `json:"required" yaml:"required"`
	Parallel    bool              `json:"parallel" yaml:"parallel"`
	DependsOn   []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	MaxRetries  int               `json:"max_retries" yaml:"max_retries"`
	Timeout     time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetryDelay  time.Duration     `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	WorkingDir  string            `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Settings    map[string]any    `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// EnsureID assigns a random id when the definition has none and returns it.
func (d *Definition) EnsureID() string {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return d.ID
}

// Validate checks the definition on its own, without looking at other hooks.
func (d Definition) Validate() error {
	switch {
	case d.Event == "":
		return invalidDefinition(d.ID, "event is required")
	case !d.Event.Valid():
		return invalidDefinition(d.ID, fmt.Sprintf("unknown event %q", d.Event))
	case strings.TrimSpace(d.Type) == "":
		return invalidDefinition(d.ID, "type is required")
	case d.MaxRetries < 0:
		return invalidDefinition(d.ID, "max_retries must be non-negative")
	case d.Timeout < 0:
		return invalidDefinition(d.ID, "timeout must be non-negative")
	case d.RetryDelay < 0:
		return invalidDefinition(d.ID, "retry_delay must be non-negative")
	case d.Mode < ModeAsync || d.Mode > ModeFireAndForget:
		return invalidDefinition(d.ID, fmt.Sprintf("invalid mode %d", d.Mode))
	}
	for _, dep := range d.DependsOn {
		if dep == "" {
			return invalidDefinition(d.ID, "dependency id must not be empty")
		}
		if d.ID != "" && dep == d.ID {
			return &ConfigurationError{HookID: d.ID, Reason: "hook depends on itself", Err: ErrCircularDependency}
		}
	}
	return nil
}

// Clone returns a deep copy with duplicate dependencies removed.
func (d Definition) Clone() Definition {
	out := d
	if d.DependsOn != nil {
		seen := make(map[string]bool, len(d.DependsOn))
		out.DependsOn = make([]string, 0, len(d.DependsOn))
		for _, dep := range d.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out.DependsOn = append(out.DependsOn, dep)
		}
	}
	if d.Environment != nil {
		out.Environment = make(map[string]string, len(d.Environment))
		for k, v := range d.Environment {
			out.Environment[k] = v
		}
	}
	if d.Settings != nil {
		out.Settings = cloneSettings(d.Settings)
	}
	return out
}

func cloneSettings(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneSettings(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = cloneValue(item)
		}
		return items
	case []string:
		items := make([]string, len(val))
		copy(items, val)
		return items
	default:
		return v
	}
}

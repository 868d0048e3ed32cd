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

// Package hooks defines the vocabulary shared by the hook engine: lifecycle
// events, hook definitions, per-hook context snapshots and the error taxonomy.
//
// The package has no dependencies on the planner or the executor so that
// capabilities, config loaders and observers can all import it.
package hooks

import (
	"fmt"
	"strings"
	"time"
)

// EventType identifies a point in the agent lifecycle that can trigger hooks.
type EventType string

const (
	EventSessionStart  EventType = "session_start"
	EventSessionEnd    EventType = "session_end"
	EventTaskStart     EventType = "task_start"
	EventTaskComplete  EventType = "task_complete"
	EventExecBefore    EventType = "exec_before"
	EventExecAfter     EventType = "exec_after"
	EventPatchBefore   EventType = "patch_before"
	EventPatchAfter    EventType = "patch_after"
	EventMCPToolBefore EventType = "mcp_tool_before"
	EventMCPToolAfter  EventType = "mcp_tool_after"
	EventAgentMessage  EventType = "agent_message"
	EventError         EventType = "error"
)

var allEventTypes = []EventType{
	EventSessionStart,
	EventSessionEnd,
	EventTaskStart,
	EventTaskComplete,
	EventExecBefore,
	EventExecAfter,
	EventPatchBefore,
	EventPatchAfter,
	EventMCPToolBefore,
	EventMCPToolAfter,
	EventAgentMessage,
	EventError,
}

// EventTypes returns every known event type in lifecycle order.
func EventTypes() []EventType {
	out := make([]EventType, len(allEventTypes))
	copy(out, allEventTypes)
	return out
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range allEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t EventType) String() string {
	return string(t)
}

// ParseEventType converts a string to an EventType.
// Dotted and dashed spellings ("session.start", "exec-before") are accepted.
func ParseEventType(s string) (EventType, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer(".", "_", "-", "_").Replace(normalized)
	switch normalized {
	case "task_end":
		normalized = string(EventTaskComplete)
	case "error_occurred":
		normalized = string(EventError)
	}
	t := EventType(normalized)
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type: %q", s)
	}
	return t, nil
}

// Event is a single lifecycle occurrence handed to the manager.
type Event struct {
	Type      EventType      `json:"type" yaml:"type"`
	SessionID string         `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Data      map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// NewEvent creates an event of the given type stamped with the current time.
func NewEvent(t EventType, data map[string]any) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// WithSession returns a copy of the event bound to a session.
func (e Event) WithSession(sessionID string) Event {
	e.SessionID = sessionID
	return e
}

// WithTask returns a copy of the event bound to a task.
func (e Event) WithTask(taskID string) Event {
	e.TaskID = taskID
	return e
}

// clone copies the data map so snapshots cannot be mutated through the
// caller's reference.
func (e Event) clone() Event {
	if e.Data != nil {
		data := make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			data[k] = v
		}
		e.Data = data
	}
	return e
}

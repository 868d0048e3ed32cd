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
	"os"
	"time"
)

// Snapshot is the immutable per-trigger view of an event shared by every
// hook that runs for it.
type Snapshot struct {
	Event       Event
	WorkingDir  string
	Environment map[string]string
	CreatedAt   time.Time
}

// NewSnapshot captures the event, working directory and base environment.
// An empty working directory falls back to the process working directory.
func NewSnapshot(event Event, workingDir string, env map[string]string) Snapshot {
	if workingDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workingDir = wd
		}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return Snapshot{
		Event:       event.clone(),
		WorkingDir:  workingDir,
		Environment: copyEnv(env, nil),
		CreatedAt:   time.Now(),
	}
}

// For binds the snapshot to a single hook definition.
func (s Snapshot) For(def Definition) Context {
	wd := s.WorkingDir
	if def.WorkingDir != "" {
		wd = def.WorkingDir
	}
	return Context{
		Event:       s.Event,
		Hook:        def.Clone(),
		WorkingDir:  wd,
		Environment: copyEnv(s.Environment, def.Environment),
	}
}

// Context is what a capability receives for one hook invocation.
type Context struct {
	Event       Event
	Hook        Definition
	WorkingDir  string
	Environment map[string]string
}

// Setting returns a raw capability setting.
func (c Context) Setting(key string) (any, bool) {
	v, ok := c.Hook.Settings[key]
	return v, ok
}

func copyEnv(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hookd runs user-configured hooks at agent lifecycle events.
//
// Hooks are declared in YAML, grouped by event and ordered by priority and
// explicit dependencies. Each hook runs through a capability (script,
// webhook, database, filesystem, mcp, queue or plugin) under its own
// timeout and retry policy. Blocking hooks are awaited; a required
// blocking hook that fails aborts the rest of the event.
//
// # Quick Start
//
//	version: "1"
//	hooks:
//	  definitions:
//	    - id: lint
//	      event: task_complete
//	      type: script
//	      mode: blocking
//	      required: true
//	      settings:
//	        command: make lint
//
// Check and run it:
//
//	hookd validate --config hookd.yaml
//	hookd trigger task_complete --task t-1
//	hookd serve --watch
//
// # Using as Go Library
//
//	rt, err := runtime.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer rt.Close(ctx)
//
//	result, err := rt.Manager().Trigger(ctx, hooks.NewEvent(hooks.EventTaskComplete, nil))
//
// See pkg/hooks/manager for the engine and pkg/runtime for assembly from
// configuration.
package hookd

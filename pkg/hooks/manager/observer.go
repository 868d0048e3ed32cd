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
	"context"

	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
)

// Observer receives results as they are produced. Implementations must be
// safe for concurrent use; ExecutionFinished is called from worker
// goroutines, including for fire-and-forget hooks.
type Observer interface {
	ExecutionFinished(ctx context.Context, r executor.Result)
	TriggerFinished(ctx context.Context, event hooks.Event, agg executor.AggregatedResult, err error)
}

// ObserverFuncs adapts plain functions into an Observer. Nil fields are
// skipped.
type ObserverFuncs struct {
	OnExecution func(ctx context.Context, r executor.Result)
	OnTrigger   func(ctx context.Context, event hooks.Event, agg executor.AggregatedResult, err error)
}

func (f ObserverFuncs) ExecutionFinished(ctx context.Context, r executor.Result) {
	if f.OnExecution != nil {
		f.OnExecution(ctx, r)
	}
}

func (f ObserverFuncs) TriggerFinished(ctx context.Context, event hooks.Event, agg executor.AggregatedResult, err error) {
	if f.OnTrigger != nil {
		f.OnTrigger(ctx, event, agg, err)
	}
}

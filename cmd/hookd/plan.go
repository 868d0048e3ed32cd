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
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/dependency"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
	"github.com/kadirpekel/hookd/pkg/runtime"
)

// PlanCmd prints the dependency levels an event would run.
type PlanCmd struct {
	Event  string `arg:"" help:"Event type, e.g. session_start."`
	Output string `short:"o" help:"Output format: yaml, json, text." default:"yaml" enum:"yaml,json,text"`
}

func (c *PlanCmd) Run(cli *CLI) error {
	ctx := context.Background()

	eventType, err := hooks.ParseEventType(c.Event)
	if err != nil {
		return err
	}

	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return err
	}
	defer loader.Close()

	rt, err := runtime.New(ctx, cfg, runtime.WithoutHistory())
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	plan, err := rt.Manager().Plan(eventType)
	if err != nil {
		return err
	}

	out := cli.stdout()
	switch c.Output {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(plan)
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}

	if plan.Empty() {
		fmt.Fprintf(out, "%s: no hooks\n", eventType)
		return nil
	}
	base := cfg.Hooks.Defaults.ExecutorConfig()
	bounds := make([]time.Duration, len(plan.Levels))
	var total time.Duration
	for i, level := range plan.Levels {
		bounds[i] = levelWorstCase(level, base)
		total += bounds[i]
	}

	fmt.Fprintf(out, "%s: %d hooks in %d levels, worst case %s\n", eventType, plan.HookCount(), len(plan.Levels), total)
	for i, level := range plan.Levels {
		kind := "sequential"
		if level.Parallel {
			kind = "parallel"
		}
		fmt.Fprintf(out, "  %d [%s] %s (worst case %s)\n", i, kind, strings.Join(level.IDs(), ", "), bounds[i])
	}
	return nil
}

// levelWorstCase is the longest any hook of the level can run, retries
// included. Hooks of a level start together, so the slowest one bounds it.
func levelWorstCase(level dependency.Level, base executor.Config) time.Duration {
	var worst time.Duration
	for _, def := range level.Hooks {
		if d := executor.ConfigFor(def, base).WorstCase(); d > worst {
			worst = d
		}
	}
	return worst
}

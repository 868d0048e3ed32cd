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
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
	"github.com/kadirpekel/hookd/pkg/runtime"
)

// TriggerCmd triggers one event and waits for its tracked hooks.
type TriggerCmd struct {
	Event   string            `arg:"" help:"Event type, e.g. task_complete."`
	Data    map[string]string `short:"d" help:"Event data as key=value. Values are parsed as JSON when possible."`
	Session string            `help:"Session id."`
	Task    string            `help:"Task id."`
	Output  string            `short:"o" help:"Output format: text, yaml, json." default:"text" enum:"text,yaml,json"`
}

func (c *TriggerCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventType, err := hooks.ParseEventType(c.Event)
	if err != nil {
		return err
	}

	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return err
	}
	defer loader.Close()

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	event := hooks.NewEvent(eventType, parseData(c.Data)).WithSession(c.Session).WithTask(c.Task)
	result, trigErr := rt.Manager().Trigger(ctx, event)

	if err := c.print(cli, result, trigErr); err != nil {
		return err
	}
	return trigErr
}

func (c *TriggerCmd) print(cli *CLI, result executor.AggregatedResult, trigErr error) error {
	out := cli.stdout()
	switch c.Output {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(result)
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(out, "%s: %d total, %d successful, %d failed, %d cancelled\n",
		c.Event, result.Total, result.Successful, result.Failed, result.Cancelled)
	for _, r := range result.Results {
		fmt.Fprintf(out, "  %-9s %s (%s, %s)\n", r.Status(), r.HookID, r.Capability, r.Duration)
		if r.Output != "" {
			fmt.Fprintf(out, "    %s\n", r.Output)
		}
		if r.Error != "" {
			fmt.Fprintf(out, "    error: %s\n", r.Error)
		}
	}
	if trigErr != nil {
		fmt.Fprintf(out, "aborted: %v\n", trigErr)
	}
	return nil
}

// parseData decodes each value as JSON, falling back to the raw string.
func parseData(raw map[string]string) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	data := make(map[string]any, len(raw))
	for k, v := range raw {
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			parsed = v
		}
		data[k] = parsed
	}
	return data
}

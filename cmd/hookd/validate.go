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

	"github.com/kadirpekel/hookd/pkg/runtime"
)

// ValidateCmd validates a configuration document.
type ValidateCmd struct {
	Format string `short:"f" help:"Output format: compact, json." default:"compact" enum:"compact,json"`
}

type validateResult struct {
	Valid        bool     `json:"valid"`
	Config       string   `json:"config"`
	Hooks        int      `json:"hooks,omitempty"`
	WithDeps     int      `json:"hooks_with_dependencies,omitempty"`
	MaxDepth     int      `json:"max_dependency_depth,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()

	res := validateResult{Config: cli.Config}
	err := func() error {
		cfg, loader, err := cli.loadConfig(ctx)
		if err != nil {
			return err
		}
		defer loader.Close()

		report, err := runtime.Check(ctx, cfg)
		if err != nil {
			return err
		}
		res.Hooks = report.Hooks
		res.WithDeps = report.Graph.HooksWithDependencies
		res.MaxDepth = report.Graph.MaxDepth
		res.Capabilities = report.Capabilities
		return nil
	}()
	res.Valid = err == nil
	if err != nil {
		res.Error = err.Error()
	}

	out := cli.stdout()
	if c.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
	} else if res.Valid {
		fmt.Fprintf(out, "%s: valid (%d hooks, %d with dependencies, max depth %d)\n",
			res.Config, res.Hooks, res.WithDeps, res.MaxDepth)
	} else {
		fmt.Fprintf(out, "%s: invalid: %s\n", res.Config, res.Error)
	}

	if err != nil {
		return fmt.Errorf("config validation failed")
	}
	return nil
}

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

// Command hookd runs lifecycle hooks for agent sessions.
//
// Usage:
//
//	hookd validate --config hookd.yaml
//	hookd plan session_start
//	hookd trigger task_complete --data task=build --data ok=true
//	hookd serve --watch
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/hookd"
	"github.com/kadirpekel/hookd/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration and its hook graph."`
	Plan     PlanCmd     `cmd:"" help:"Show the execution plan for an event."`
	Trigger  TriggerCmd  `cmd:"" help:"Trigger an event once and print the results."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP control API."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration."`

	Config          string   `short:"c" help:"Path or key of the config document." default:"hookd.yaml"`
	ConfigProvider  string   `name:"config-provider" help:"Config source (file, consul, etcd, zookeeper)." default:"file" enum:"file,consul,etcd,zookeeper"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Endpoints of a remote config source." sep:","`
	LogLevel        string   `help:"Log level (debug, info, warn, error)."`
	LogFile         string   `help:"Log file path (empty = stderr)."`
	LogFormat       string   `help:"Log format (simple, verbose, json)."`

	out     io.Writer
	cleanup func()
}

func (cli *CLI) stdout() io.Writer {
	if cli.out == nil {
		return os.Stdout
	}
	return cli.out
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Fprintln(cli.stdout(), hookd.GetVersion())
	return nil
}

// execute parses args and runs the selected command.
func execute(args []string, out io.Writer) error {
	cli := CLI{out: out}
	parser, err := kong.New(&cli,
		kong.Name("hookd"),
		kong.Description("Lifecycle hook orchestration for agent sessions."),
		kong.UsageOnError(),
		kong.Writers(out, os.Stderr),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	if err := cli.initLogger(nil); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if cli.cleanup != nil {
			cli.cleanup()
		}
	}()

	return kctx.Run(&cli)
}

func main() {
	_ = config.LoadEnvFiles()

	if err := execute(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "hookd: %v\n", err)
		os.Exit(1)
	}
}

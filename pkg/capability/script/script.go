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

// Package script runs hook commands as child processes.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
)

// Type is the capability label hooks use to select this capability.
const Type = "script"

const truncationMarker = "\n... [output truncated]\n"

// Settings are the per-hook settings of a script hook.
//
// Example:
//
//	settings:
//	  command: ["./scripts/notify.sh", "--quiet"]
//	  stdin_event: true
type Settings struct {
	// Command is a shell string or an argv list. A string runs through
	// the configured shell; a list runs directly.
	Command any `yaml:"command"`

	// StdinEvent writes the event as JSON to the process stdin.
	StdinEvent bool `yaml:"stdin_event"`
}

// argv normalises Command into the process arguments.
func (s Settings) argv(shell string) ([]string, error) {
	switch cmd := s.Command.(type) {
	case string:
		if strings.TrimSpace(cmd) == "" {
			return nil, errors.New("command is empty")
		}
		return []string{shell, "-c", cmd}, nil
	case []string:
		if len(cmd) == 0 {
			return nil, errors.New("command is empty")
		}
		return cmd, nil
	case []any:
		if len(cmd) == 0 {
			return nil, errors.New("command is empty")
		}
		out := make([]string, len(cmd))
		for i, v := range cmd {
			out[i] = fmt.Sprint(v)
		}
		return out, nil
	case nil:
		return nil, errors.New("command is required")
	default:
		return nil, fmt.Errorf("command must be a string or a list, got %T", cmd)
	}
}

// Capability executes scripts.
type Capability struct {
	shell     string
	maxOutput int
	env       map[string]string
}

// New creates a script capability.
func New(cfg config.ScriptConfig) *Capability {
	c := &Capability{
		shell:     cfg.Shell,
		maxOutput: cfg.MaxOutputBytes,
		env:       cfg.Environment,
	}
	if c.shell == "" {
		c.shell = config.DefaultScriptShell
	}
	if c.maxOutput <= 0 {
		c.maxOutput = config.DefaultMaxOutputBytes
	}
	return c
}

func (c *Capability) Type() string { return Type }

// CanExecute accepts hooks that name a command.
func (c *Capability) CanExecute(hc hooks.Context) bool {
	_, ok := hc.Setting("command")
	return ok
}

// Prepare validates the settings and the working directory.
func (c *Capability) Prepare(_ context.Context, hc hooks.Context) error {
	s, err := decode(hc)
	if err != nil {
		return err
	}
	if _, err := s.argv(c.shell); err != nil {
		return err
	}
	if hc.WorkingDir != "" {
		info, err := os.Stat(hc.WorkingDir)
		if err != nil {
			return fmt.Errorf("working directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("working directory %s is not a directory", hc.WorkingDir)
		}
	}
	return nil
}

// Execute runs the command once. A non-zero exit is a failed outcome;
// errors are reserved for problems starting the process.
func (c *Capability) Execute(ctx context.Context, hc hooks.Context) (executor.Outcome, error) {
	start := time.Now()

	s, err := decode(hc)
	if err != nil {
		return executor.Outcome{}, err
	}
	argv, err := s.argv(c.shell)
	if err != nil {
		return executor.Outcome{}, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = hc.WorkingDir
	cmd.Env = c.environ(hc)
	cmd.WaitDelay = 2 * time.Second

	if s.StdinEvent {
		payload, err := json.Marshal(hc.Event)
		if err != nil {
			return executor.Outcome{}, fmt.Errorf("failed to encode event: %w", err)
		}
		cmd.Stdin = bytes.NewReader(payload)
	}

	stdout := &cappedBuffer{limit: c.maxOutput}
	stderr := &cappedBuffer{limit: c.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	elapsed := time.Since(start)

	meta := map[string]any{
		"exit_code": cmd.ProcessState.ExitCode(),
	}
	if stdout.truncated || stderr.truncated {
		meta["truncated"] = true
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return executor.Outcome{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return executor.Outcome{}, fmt.Errorf("failed to run script: %w", runErr)
		}
		msg := fmt.Sprintf("script failed with exit code %d", exitErr.ExitCode())
		if errText := strings.TrimSpace(stderr.String()); errText != "" {
			msg += ": " + errText
		}
		out := executor.Failed(msg, elapsed)
		out.Output = stdout.String()
		out.Metadata = meta
		return out, nil
	}

	out := executor.Succeeded(stdout.String(), elapsed)
	out.Metadata = meta
	return out, nil
}

// EstimatedDuration is a scheduling hint.
func (c *Capability) EstimatedDuration() time.Duration { return 5 * time.Second }

// DefaultConfig allows one retry; scripts often fail on transient state.
func (c *Capability) DefaultConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.MaxRetries = 1
	return cfg
}

// environ builds the child environment: process env, capability env,
// hook context env, then the HOOK_* variables.
func (c *Capability) environ(hc hooks.Context) []string {
	env := os.Environ()
	for k, v := range c.env {
		env = append(env, k+"="+v)
	}
	for k, v := range hc.Environment {
		env = append(env, k+"="+v)
	}
	return append(env,
		"HOOK_EVENT_TYPE="+string(hc.Event.Type),
		"HOOK_ID="+hc.Hook.ID,
		"HOOK_WORKING_DIR="+hc.WorkingDir,
		"HOOK_TIMESTAMP="+hc.Event.Timestamp.UTC().Format(time.RFC3339),
		"HOOK_SESSION_ID="+hc.Event.SessionID,
		"HOOK_TASK_ID="+hc.Event.TaskID,
	)
}

func decode(hc hooks.Context) (Settings, error) {
	var s Settings
	if err := config.DecodeSettings(hc.Hook.Settings, &s); err != nil {
		return s, fmt.Errorf("invalid script settings: %w", err)
	}
	return s, nil
}

// cappedBuffer keeps the first limit bytes written and drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + truncationMarker
	}
	return b.buf.String()
}

var (
	_ executor.Capability = (*Capability)(nil)
	_ executor.Preparer   = (*Capability)(nil)
	_ executor.Hinter     = (*Capability)(nil)
)

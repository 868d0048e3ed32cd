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

// Package plugin runs hooks implemented as external plugin binaries over
// hashicorp/go-plugin.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
)

// Type is the capability label hooks use to select this capability.
const Type = "plugin"

// Settings are the per-hook settings of a plugin hook. Every setting,
// including plugin, is forwarded to the plugin.
type Settings struct {
	Plugin string `yaml:"plugin"`
}

// Launcher starts a configured plugin and returns its Hook and a closer
// that stops it.
type Launcher func(ctx context.Context, name string, cfg *config.PluginConfig) (Hook, io.Closer, error)

type instance struct {
	hook   Hook
	closer io.Closer
}

// Capability dispatches hooks to plugin binaries. Each binary is started
// on first use and kept running until Close.
type Capability struct {
	plugins  map[string]*config.PluginConfig
	launcher Launcher
	logger   hclog.Logger

	mu        sync.Mutex
	instances map[string]*instance
}

// Option configures a Capability.
type Option func(*Capability)

// WithLauncher replaces the go-plugin launcher.
func WithLauncher(l Launcher) Option {
	return func(c *Capability) { c.launcher = l }
}

// WithLogger sets the logger handed to go-plugin.
func WithLogger(l hclog.Logger) Option {
	return func(c *Capability) { c.logger = l }
}

// New creates a plugin capability over the configured binaries.
func New(plugins map[string]*config.PluginConfig, opts ...Option) *Capability {
	c := &Capability{
		plugins:   plugins,
		instances: make(map[string]*instance),
		logger: hclog.New(&hclog.LoggerOptions{
			Name:   "hookd-plugin",
			Level:  hclog.Warn,
			Output: os.Stderr,
		}),
	}
	c.launcher = c.launch
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Capability) Type() string { return Type }

// CanExecute accepts hooks naming a plugin.
func (c *Capability) CanExecute(hc hooks.Context) bool {
	_, ok := hc.Setting("plugin")
	return ok
}

// Prepare checks that the plugin is configured.
func (c *Capability) Prepare(_ context.Context, hc hooks.Context) error {
	_, err := c.lookup(hc)
	return err
}

// Execute forwards the hook to its plugin.
func (c *Capability) Execute(ctx context.Context, hc hooks.Context) (executor.Outcome, error) {
	start := time.Now()

	name, err := c.lookup(hc)
	if err != nil {
		return executor.Outcome{}, err
	}
	req, err := NewRequest(hc)
	if err != nil {
		return executor.Outcome{}, err
	}
	hook, err := c.instance(ctx, name)
	if err != nil {
		return executor.Failed(err.Error(), time.Since(start)), nil
	}

	var resp Response
	if rc, ok := hook.(*RPCClient); ok {
		resp, err = rc.ExecuteContext(ctx, req)
	} else {
		resp, err = hook.Execute(req)
	}
	if err != nil {
		if ctx.Err() != nil {
			return executor.Outcome{}, ctx.Err()
		}
		// A broken connection leaves a dead instance behind.
		c.drop(name)
		return executor.Failed(fmt.Sprintf("plugin %s: %v", name, err), time.Since(start)), nil
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "plugin reported failure"
		}
		out := executor.Failed(msg, time.Since(start))
		out.Output = resp.Output
		return out, nil
	}
	return executor.Succeeded(resp.Output, time.Since(start)), nil
}

// EstimatedDuration is a scheduling hint.
func (c *Capability) EstimatedDuration() time.Duration { return time.Second }

// DefaultConfig allows plugin start-up within the timeout.
func (c *Capability) DefaultConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.Timeout = 60 * time.Second
	cfg.MaxRetries = 1
	return cfg
}

// Running lists the names of started plugins.
func (c *Capability) Running() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.instances))
	for name := range c.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops every started plugin.
func (c *Capability) Close() error {
	c.mu.Lock()
	instances := c.instances
	c.instances = make(map[string]*instance)
	c.mu.Unlock()

	var errs []error
	for name, inst := range instances {
		if err := inst.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Capability) lookup(hc hooks.Context) (string, error) {
	var s Settings
	if err := config.DecodeSettings(hc.Hook.Settings, &s); err != nil {
		return "", fmt.Errorf("invalid plugin settings: %w", err)
	}
	if s.Plugin == "" {
		return "", errors.New("plugin is required")
	}
	if _, ok := c.plugins[s.Plugin]; !ok {
		return "", fmt.Errorf("unknown plugin %q", s.Plugin)
	}
	return s.Plugin, nil
}

func (c *Capability) instance(ctx context.Context, name string) (Hook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inst, ok := c.instances[name]; ok {
		return inst.hook, nil
	}
	hook, closer, err := c.launcher(ctx, name, c.plugins[name])
	if err != nil {
		return nil, fmt.Errorf("failed to start plugin %s: %w", name, err)
	}
	c.instances[name] = &instance{hook: hook, closer: closer}
	return hook, nil
}

func (c *Capability) drop(name string) {
	c.mu.Lock()
	inst, ok := c.instances[name]
	delete(c.instances, name)
	c.mu.Unlock()
	if ok {
		_ = inst.closer.Close()
	}
}

type clientCloser struct {
	client *goplugin.Client
}

func (k clientCloser) Close() error {
	k.client.Kill()
	return nil
}

func (c *Capability) launch(_ context.Context, name string, cfg *config.PluginConfig) (Hook, io.Closer, error) {
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          goplugin.PluginSet{PluginName: &HookPlugin{}},
		Cmd:              exec.Command(cfg.Path, cfg.Args...),
		Logger:           c.logger.Named(name),
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to get RPC client: %w", err)
	}
	raw, err := rpcClient.Dispense(PluginName)
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}
	hook, ok := raw.(Hook)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("plugin does not implement the hook interface")
	}
	return hook, clientCloser{client: client}, nil
}

var (
	_ executor.Capability = (*Capability)(nil)
	_ executor.Preparer   = (*Capability)(nil)
	_ executor.Hinter     = (*Capability)(nil)
)

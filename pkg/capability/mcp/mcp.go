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

// Package mcp calls tools on Model Context Protocol servers from hooks.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
)

// Type is the capability label hooks use to select this capability.
const Type = "mcp"

// ClientName is reported to servers during initialization.
const ClientName = "hookd"

// Settings are the per-hook settings of an mcp hook.
type Settings struct {
	// Server names an entry of capabilities.mcp.servers.
	Server    string         `yaml:"server"`
	Tool      string         `yaml:"tool"`
	Arguments map[string]any `yaml:"arguments"`
}

// Dialer creates an unstarted client for a configured server.
type Dialer func(ctx context.Context, name string, cfg *config.MCPServerConfig) (*client.Client, error)

// Option configures a Capability.
type Option func(*Capability)

// WithDialer replaces how clients are created.
func WithDialer(d Dialer) Option {
	return func(c *Capability) {
		c.dial = d
	}
}

// WithClientVersion sets the version reported to servers.
func WithClientVersion(v string) Option {
	return func(c *Capability) {
		c.version = v
	}
}

// Capability calls MCP tools. Sessions are opened on first use and shared
// by every hook naming the same server. They outlive the attempt that
// opened them and end on Close.
type Capability struct {
	servers map[string]*config.MCPServerConfig
	dial    Dialer
	version string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	sessions map[string]*session
	dialing  map[string]*sync.Mutex
}

type session struct {
	client *client.Client
	cancel context.CancelFunc
}

func (s *session) close() error {
	err := s.client.Close()
	s.cancel()
	return err
}

// New creates an mcp capability for the configured servers.
func New(cfg config.MCPConfig, opts ...Option) *Capability {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Capability{
		servers:  cfg.Servers,
		dial:     Dial,
		version:  "dev",
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
		dialing:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial creates a client for the server's transport.
func Dial(_ context.Context, name string, cfg *config.MCPServerConfig) (*client.Client, error) {
	switch cfg.Transport {
	case "stdio", "":
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcp server %s: command is required for stdio", name)
		}
		return client.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
	case "sse":
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp server %s: url is required for sse", name)
		}
		return client.NewSSEMCPClient(cfg.URL)
	default:
		return nil, fmt.Errorf("mcp server %s: unsupported transport %q", name, cfg.Transport)
	}
}

func (c *Capability) Type() string { return Type }

// CanExecute accepts hooks that name a tool.
func (c *Capability) CanExecute(hc hooks.Context) bool {
	_, ok := hc.Setting("tool")
	return ok
}

// Prepare validates the settings.
func (c *Capability) Prepare(_ context.Context, hc hooks.Context) error {
	_, err := c.decode(hc)
	return err
}

// Execute calls the tool once. Tool-level errors are failed outcomes;
// transport errors also drop the cached session so the next attempt
// reconnects.
func (c *Capability) Execute(ctx context.Context, hc hooks.Context) (executor.Outcome, error) {
	start := time.Now()

	s, err := c.decode(hc)
	if err != nil {
		return executor.Outcome{}, err
	}

	sess, err := c.acquire(ctx, s.Server)
	if err != nil {
		if ctx.Err() != nil {
			return executor.Outcome{}, ctx.Err()
		}
		return executor.Failed(err.Error(), time.Since(start)), nil
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = s.Tool
	req.Params.Arguments = s.Arguments

	resp, err := sess.client.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return executor.Outcome{}, ctx.Err()
		}
		c.drop(s.Server, sess)
		return executor.Failed(fmt.Sprintf("mcp call failed: %v", err), time.Since(start)), nil
	}

	text := contentText(resp)
	if resp.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return executor.Failed(text, time.Since(start)), nil
	}

	out := executor.Succeeded(text, time.Since(start))
	out.Metadata = map[string]any{"server": s.Server, "tool": s.Tool}
	return out, nil
}

// EstimatedDuration is a scheduling hint.
func (c *Capability) EstimatedDuration() time.Duration { return 2 * time.Second }

// DefaultConfig retries once to ride out a reconnect.
func (c *Capability) DefaultConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.Timeout = 60 * time.Second
	cfg.MaxRetries = 1
	return cfg
}

// Sessions returns the names of servers with an open session.
func (c *Capability) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.sessions))
	for name := range c.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every session. Hooks executed afterwards fail.
func (c *Capability) Close() error {
	c.mu.Lock()
	c.closed = true
	sessions := c.sessions
	c.sessions = make(map[string]*session)
	c.mu.Unlock()

	var errs []error
	for name, s := range sessions {
		if err := s.close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp server %s: %w", name, err))
		}
	}
	c.cancel()
	return errors.Join(errs...)
}

func (c *Capability) cached(name string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("mcp capability is closed")
	}
	return c.sessions[name], nil
}

// acquire returns the open session for name, dialing it if needed.
// Dials are serialized per server only.
func (c *Capability) acquire(ctx context.Context, name string) (*session, error) {
	if s, err := c.cached(name); s != nil || err != nil {
		return s, err
	}

	c.mu.Lock()
	lock, ok := c.dialing[name]
	if !ok {
		lock = &sync.Mutex{}
		c.dialing[name] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	if s, err := c.cached(name); s != nil || err != nil {
		return s, err
	}

	s, err := c.open(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = s.close()
		return nil, errors.New("mcp capability is closed")
	}
	c.sessions[name] = s
	return s, nil
}

// open starts a session on the capability's context. The attempt ctx
// bounds only the handshake.
func (c *Capability) open(ctx context.Context, name string) (*session, error) {
	cfg := c.servers[name]
	sessCtx, cancel := context.WithCancel(c.ctx)
	stop := context.AfterFunc(ctx, cancel)

	cl, err := c.dial(sessCtx, name, cfg)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("failed to create mcp client: %w", err)
	}
	s := &session{client: cl, cancel: cancel}

	if err := cl.Start(sessCtx); err != nil {
		stop()
		_ = s.close()
		return nil, fmt.Errorf("failed to start mcp client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: ClientName, Version: c.version}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := cl.Initialize(ctx, initReq); err != nil {
		stop()
		_ = s.close()
		return nil, fmt.Errorf("failed to initialize mcp session: %w", err)
	}

	if !stop() {
		_ = s.close()
		return nil, fmt.Errorf("mcp session to %s cancelled during handshake: %w", name, ctx.Err())
	}

	slog.Debug("Opened MCP session", "server", name, "transport", cfg.Transport)
	return s, nil
}

func (c *Capability) drop(name string, s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[name] == s {
		delete(c.sessions, name)
		_ = s.close()
	}
}

func (c *Capability) decode(hc hooks.Context) (Settings, error) {
	var s Settings
	if err := config.DecodeSettings(hc.Hook.Settings, &s); err != nil {
		return s, fmt.Errorf("invalid mcp settings: %w", err)
	}
	if s.Tool == "" {
		return s, errors.New("tool is required")
	}
	if s.Server == "" {
		return s, errors.New("server is required")
	}
	if srv, ok := c.servers[s.Server]; !ok || srv == nil {
		return s, fmt.Errorf("unknown mcp server %q", s.Server)
	}
	return s, nil
}

func contentText(resp *mcp.CallToolResult) string {
	var texts []string
	for _, content := range resp.Content {
		if text, ok := content.(mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

var (
	_ executor.Capability = (*Capability)(nil)
	_ executor.Preparer   = (*Capability)(nil)
	_ executor.Hinter     = (*Capability)(nil)
)

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/hookd/pkg/config/provider"
	"github.com/kadirpekel/hookd/pkg/hooks"
)

const sampleConfig = `
version: "1"
name: sample
hooks:
  max_workers: 8
  environment:
    TEAM: platform
  defaults:
    timeout: 10s
    max_retries: 2
    mode: blocking
  definitions:
    - id: lint
      event: task_start
      type: script
      priority: high
      required: true
      settings:
        command: ${HOOKD_TEST_CMD:-make lint}
    - id: notify
      event: task_complete
      type: webhook
      mode: fire_and_forget
      max_retries: 0
      retry_delay: 2s
      depends_on: [lint]
    - id: skipped
      event: session_end
      type: script
      disabled: true
capabilities:
  databases:
    audit:
      driver: sqlite
      database: /tmp/audit.db
history:
  enabled: true
  backend: sql
  database: audit
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hookd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParse_Sample(t *testing.T) {
	t.Setenv("HOOKD_TEST_CMD", "")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "sample", cfg.Name)
	assert.True(t, cfg.Hooks.IsEnabled())
	assert.Equal(t, 8, cfg.Hooks.MaxWorkers)
	assert.Equal(t, 10*time.Second, cfg.Hooks.Defaults.Timeout)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, ":8080", cfg.Server.Address)

	defs, err := cfg.Hooks.HookDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, 2)

	lint := defs[0]
	assert.Equal(t, "lint", lint.ID)
	assert.Equal(t, hooks.EventTaskStart, lint.Event)
	assert.Equal(t, hooks.ModeBlocking, lint.Mode)
	assert.Equal(t, hooks.PriorityHigh, lint.Priority)
	assert.Equal(t, 2, lint.MaxRetries)
	assert.True(t, lint.Required)
	assert.Equal(t, "make lint", lint.Settings["command"])

	notify := defs[1]
	assert.Equal(t, hooks.ModeFireAndForget, notify.Mode)
	assert.Equal(t, hooks.PriorityNormal, notify.Priority)
	assert.Equal(t, 0, notify.MaxRetries)
	assert.Equal(t, 2*time.Second, notify.RetryDelay)
	assert.Equal(t, []string{"lint"}, notify.DependsOn)
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("HOOKD_TEST_CMD", "go test ./...")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	defs, err := cfg.Hooks.HookDefinitions()
	require.NoError(t, err)
	assert.Equal(t, "go test ./...", defs[0].Settings["command"])
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"hooks": {"definitions": [{"id": "a", "event": "session_start", "type": "script"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, cfg.Version)
	require.Len(t, cfg.Hooks.Definitions, 1)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Hooks.Definitions)
	assert.Equal(t, DefaultScriptShell, cfg.Capabilities.Script.Shell)
	assert.Equal(t, DefaultDeniedPaths, cfg.Capabilities.Filesystem.DeniedPaths)
}

func TestParse_ReportsAllErrors(t *testing.T) {
	_, err := Parse([]byte(`
version: "2"
logger:
  format: xml
hooks:
  definitions:
    - id: a
      event: nope
      type: script
    - id: b
      event: task_start
      type: script
    - id: b
      event: task_start
      type: script
history:
  enabled: true
  backend: sql
  database: missing
`))
	require.Error(t, err)
	assert.ErrorContains(t, err, `unsupported config version "2"`)
	assert.ErrorContains(t, err, `invalid log format "xml"`)
	assert.ErrorContains(t, err, "definitions[0]")
	assert.ErrorContains(t, err, `hook id "b" already used by definitions[1]`)
	assert.ErrorContains(t, err, `database "missing" is not defined`)
}

func TestParse_InvalidDocument(t *testing.T) {
	_, err := Parse([]byte("hooks: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestHookConfig_Definition(t *testing.T) {
	defaults := DefaultsConfig{Mode: "async", MaxRetries: 3}
	retries := 1

	def, err := HookConfig{Event: "exec_before", Type: "script", Priority: "7", MaxRetries: &retries}.Definition(defaults)
	require.NoError(t, err)
	assert.Equal(t, hooks.Priority(7), def.Priority)
	assert.Equal(t, 1, def.MaxRetries)
	assert.Equal(t, hooks.ModeAsync, def.Mode)

	_, err = HookConfig{Event: "exec_before", Type: "script", Mode: "eventually"}.Definition(defaults)
	assert.Error(t, err)

	_, err = HookConfig{Event: "exec_before", Type: "script", Priority: "urgent"}.Definition(defaults)
	assert.Error(t, err)

	_, err = HookConfig{Event: "exec_before"}.Definition(defaults)
	assert.True(t, hooks.IsConfigurationError(err))
}

func TestDefaultsConfig_ExecutorConfig(t *testing.T) {
	d := DefaultsConfig{Timeout: time.Second, MaxRetries: 4}
	d.SetDefaults()

	cfg := d.ExecutorConfig()
	assert.Equal(t, time.Second, cfg.Timeout)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.True(t, cfg.Isolated)
}

func TestAuthConfig_Validate(t *testing.T) {
	auth := AuthConfig{Enabled: true}
	auth.SetDefaults()
	assert.ErrorContains(t, auth.Validate(), "jwks_url is required")

	auth.JWKSURL = "https://auth.example.com/jwks.json"
	auth.Issuer = "https://auth.example.com"
	auth.Audience = "hookd"
	assert.NoError(t, auth.Validate())
	assert.True(t, auth.IsEnabled())
	assert.Equal(t, []string{"/health"}, auth.ExcludedPaths)
}

func TestCapabilitiesConfig_Validate(t *testing.T) {
	c := CapabilitiesConfig{
		MCP: MCPConfig{Servers: map[string]*MCPServerConfig{
			"local":  {Command: "mcp-server"},
			"remote": {},
		}},
		Plugins: map[string]*PluginConfig{"broken": {}},
	}
	c.SetDefaults()
	assert.Equal(t, "stdio", c.MCP.Servers["local"].Transport)
	assert.Equal(t, "sse", c.MCP.Servers["remote"].Transport)

	err := c.Validate()
	assert.ErrorContains(t, err, "mcp.servers.remote: url is required for sse")
	assert.ErrorContains(t, err, "plugins.broken: path is required")
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()

	assert.Equal(t, "sample", cfg.Name)
	assert.Equal(t, "file", string(loader.Provider().Type()))
}

func TestLoadConfigFile_Missing(t *testing.T) {
	_, _, err := LoadConfigFile(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoader_WatchReloads(t *testing.T) {
	path := writeConfig(t, "name: before\n")

	reloaded := make(chan *Config, 4)
	_, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	loader = NewLoader(loader.Provider(), WithOnChange(func(c *Config) { reloaded <- c }))
	defer loader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loader.Watch(ctx) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("name: after\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "after", cfg.Name)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

type staticProvider struct {
	data []byte
}

func (p *staticProvider) Type() provider.Type                            { return "static" }
func (p *staticProvider) Load(context.Context) ([]byte, error)           { return p.data, nil }
func (p *staticProvider) Watch(context.Context) (<-chan struct{}, error) { return nil, nil }
func (p *staticProvider) Close() error                                   { return nil }

func TestLoader_ReloadSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	p := &staticProvider{data: []byte("name: one\n")}

	var got []*Config
	l := NewLoader(p, WithOnChange(func(c *Config) { got = append(got, c) }))
	_, err := l.Load(ctx)
	require.NoError(t, err)

	l.reload(ctx)
	assert.Empty(t, got)

	p.data = []byte("name: two\n")
	l.reload(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, "two", got[0].Name)

	p.data = []byte("version: \"9\"\n")
	l.reload(ctx)
	assert.Len(t, got, 1)
	assert.Equal(t, "two", l.Current().Name)
}

func TestDecodeSettings(t *testing.T) {
	var out struct {
		Command string        `yaml:"command"`
		Args    []string      `yaml:"args"`
		Timeout time.Duration `yaml:"timeout"`
		Count   int           `yaml:"count"`
	}
	err := DecodeSettings(map[string]any{
		"command": "echo",
		"args":    "a,b",
		"timeout": "3s",
		"count":   "2",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "echo", out.Command)
	assert.Equal(t, []string{"a", "b"}, out.Args)
	assert.Equal(t, 3*time.Second, out.Timeout)
	assert.Equal(t, 2, out.Count)

	assert.NoError(t, DecodeSettings(nil, &out))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("HOOKD_A", "alpha")
	t.Setenv("HOOKD_EMPTY", "")

	assert.Equal(t, "alpha", ExpandEnv("$HOOKD_A"))
	assert.Equal(t, "x-alpha-y", ExpandEnv("x-${HOOKD_A}-y"))
	assert.Equal(t, "fallback", ExpandEnv("${HOOKD_EMPTY:-fallback}"))
	assert.Equal(t, "alpha", ExpandEnv("${HOOKD_A:-fallback}"))
	assert.Equal(t, "plain", ExpandEnv("plain"))
	assert.Equal(t, "echo $HOOK_EVENT_TYPE", ExpandEnv("echo $$HOOK_EVENT_TYPE"))
	assert.Equal(t, "cost: $5", ExpandEnv("cost: $$5"))
}

func TestLoaderConfig_Validate(t *testing.T) {
	c := LoggerConfig{}
	c.SetDefaults()
	assert.NoError(t, c.Validate())

	c.Level = "loud"
	assert.Error(t, c.Validate())
}

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

package config

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// CapabilitiesConfig holds process-wide settings for the built-in
// capabilities. Per-hook settings live in each hook's settings block.
type CapabilitiesConfig struct {
	Script     ScriptConfig               `yaml:"script,omitempty" json:"script,omitempty"`
	Webhook    WebhookConfig              `yaml:"webhook,omitempty" json:"webhook,omitempty"`
	Filesystem FilesystemConfig           `yaml:"filesystem,omitempty" json:"filesystem,omitempty"`
	Databases  map[string]*DatabaseConfig `yaml:"databases,omitempty" json:"databases,omitempty"`
	MCP        MCPConfig                  `yaml:"mcp,omitempty" json:"mcp,omitempty"`
	Queue      QueueConfig                `yaml:"queue,omitempty" json:"queue,omitempty"`
	Plugins    map[string]*PluginConfig   `yaml:"plugins,omitempty" json:"plugins,omitempty"`
}

// ScriptConfig configures the script capability.
type ScriptConfig struct {
	// Shell runs commands given as a string. Default: /bin/sh
	Shell string `yaml:"shell,omitempty" json:"shell,omitempty"`

	// MaxOutputBytes caps captured stdout and stderr each. Default: 1MiB
	MaxOutputBytes int `yaml:"max_output_bytes,omitempty" json:"max_output_bytes,omitempty" jsonschema:"minimum=1"`

	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
}

// WebhookConfig configures the webhook capability.
type WebhookConfig struct {
	Timeout          time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	UserAgent        string            `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	Headers          map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	MaxResponseBytes int               `yaml:"max_response_bytes,omitempty" json:"max_response_bytes,omitempty"`

	// CACertificate is a PEM file trusted in addition to the system pool.
	CACertificate string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty"`
	// InsecureSkipVerify disables certificate checks. Development only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
}

// FilesystemConfig configures the filesystem capability.
type FilesystemConfig struct {
	// DeniedPaths may not be touched by any operation.
	DeniedPaths []string `yaml:"denied_paths,omitempty" json:"denied_paths,omitempty"`
}

// MCPConfig lists the MCP servers hooks may call.
type MCPConfig struct {
	Servers map[string]*MCPServerConfig `yaml:"servers,omitempty" json:"servers,omitempty"`
}

// MCPServerConfig describes one MCP server.
type MCPServerConfig struct {
	// Transport is "stdio" or "sse". Default: stdio when command is set.
	Transport string            `yaml:"transport,omitempty" json:"transport,omitempty" jsonschema:"enum=stdio,enum=sse"`
	Command   string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	URL       string            `yaml:"url,omitempty" json:"url,omitempty"`
}

// QueueConfig configures the queue capability.
type QueueConfig struct {
	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisConfig is a Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty" jsonschema:"default=localhost:6379"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
}

// PluginConfig names a plugin binary.
type PluginConfig struct {
	Path string   `yaml:"path" json:"path"`
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`
}

const (
	DefaultScriptShell      = "/bin/sh"
	DefaultMaxOutputBytes   = 1 << 20
	DefaultWebhookTimeout   = 30 * time.Second
	DefaultWebhookUserAgent = "hookd/1.0"
	DefaultRedisAddr        = "localhost:6379"
)

// DefaultDeniedPaths are system locations the filesystem capability refuses.
var DefaultDeniedPaths = []string{"/etc", "/bin", "/sbin", "/usr/bin", "/usr/sbin", "/boot"}

// SetDefaults applies default values to every capability section.
func (c *CapabilitiesConfig) SetDefaults() {
	if c.Script.Shell == "" {
		c.Script.Shell = DefaultScriptShell
	}
	if c.Script.MaxOutputBytes == 0 {
		c.Script.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = DefaultWebhookTimeout
	}
	if c.Webhook.UserAgent == "" {
		c.Webhook.UserAgent = DefaultWebhookUserAgent
	}
	if c.Webhook.MaxResponseBytes == 0 {
		c.Webhook.MaxResponseBytes = DefaultMaxOutputBytes
	}
	if c.Filesystem.DeniedPaths == nil {
		c.Filesystem.DeniedPaths = append([]string(nil), DefaultDeniedPaths...)
	}
	for _, db := range c.Databases {
		if db != nil {
			db.SetDefaults()
		}
	}
	for _, srv := range c.MCP.Servers {
		if srv != nil && srv.Transport == "" {
			if srv.Command != "" {
				srv.Transport = "stdio"
			} else {
				srv.Transport = "sse"
			}
		}
	}
	if c.Queue.Redis.Addr == "" {
		c.Queue.Redis.Addr = DefaultRedisAddr
	}
}

// Validate checks every capability section.
func (c *CapabilitiesConfig) Validate() error {
	var errs []error
	if c.Script.MaxOutputBytes < 0 {
		errs = append(errs, fmt.Errorf("script.max_output_bytes must be non-negative"))
	}
	if c.Webhook.Timeout < 0 {
		errs = append(errs, fmt.Errorf("webhook.timeout must be non-negative"))
	}
	for _, name := range sortedKeys(c.Databases) {
		db := c.Databases[name]
		if db == nil {
			errs = append(errs, fmt.Errorf("databases.%s: empty definition", name))
			continue
		}
		if err := db.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("databases.%s: %w", name, err))
		}
	}
	for _, name := range sortedKeys(c.MCP.Servers) {
		srv := c.MCP.Servers[name]
		if srv == nil {
			errs = append(errs, fmt.Errorf("mcp.servers.%s: empty definition", name))
			continue
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("mcp.servers.%s: command is required for stdio", name))
			}
		case "sse":
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("mcp.servers.%s: url is required for sse", name))
			}
		default:
			errs = append(errs, fmt.Errorf("mcp.servers.%s: invalid transport %q (valid: stdio, sse)", name, srv.Transport))
		}
	}
	for _, name := range sortedKeys(c.Plugins) {
		p := c.Plugins[name]
		if p == nil || p.Path == "" {
			errs = append(errs, fmt.Errorf("plugins.%s: path is required", name))
		}
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

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
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/hookd/pkg/config/provider"
)

// Loader loads a configuration document from a Provider and reloads it
// when the source changes.
type Loader struct {
	provider provider.Provider
	onChange func(*Config)

	mu      sync.Mutex
	current *Config
	digest  [sha256.Size]byte
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange sets the callback invoked with each successfully reloaded
// config. Documents identical to the last one loaded are not reported.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) { l.onChange = fn }
}

// NewLoader creates a Loader with the given provider.
func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{provider: p}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads, parses and validates the document and makes it current.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg, _, err := l.load(ctx)
	return cfg, err
}

// load returns changed=false when the raw document matches the current one.
func (l *Loader) load(ctx context.Context) (*Config, bool, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load config: %w", err)
	}
	sum := sha256.Sum256(data)

	l.mu.Lock()
	if l.current != nil && sum == l.digest {
		cfg := l.current
		l.mu.Unlock()
		return cfg, false, nil
	}
	l.mu.Unlock()

	cfg, err := Parse(data)
	if err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	l.current, l.digest = cfg, sum
	l.mu.Unlock()
	return cfg, true, nil
}

// Current returns the last config loaded, or nil.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Parse turns raw YAML or JSON into a defaulted, validated Config.
// Environment variables are expanded before decoding.
func Parse(data []byte) (*Config, error) {
	rawMap, err := parseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &Config{}
	if err := decode(expandEnvVars(rawMap), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Watch reloads the document on every change signal until ctx is done.
// An invalid document is logged and the current config stays in effect.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}
	if changes == nil {
		slog.Info("Config watching not supported by provider", "type", l.provider.Type())
		<-ctx.Done()
		return ctx.Err()
	}

	slog.Info("Watching config for hook changes", "type", l.provider.Type())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			l.reload(ctx)
		}
	}
}

func (l *Loader) reload(ctx context.Context) {
	before := hookCount(l.Current())

	cfg, changed, err := l.load(ctx)
	if err != nil {
		slog.Error("Failed to reload config, keeping current hooks", "error", err, "hooks", before)
		return
	}
	if !changed {
		slog.Debug("Config unchanged, skipping reload")
		return
	}

	slog.Info("Configuration reloaded", "hooks_before", before, "hooks_after", hookCount(cfg))
	if l.onChange != nil {
		l.onChange(cfg)
	}
}

func hookCount(cfg *Config) int {
	if cfg == nil {
		return 0
	}
	return len(cfg.Hooks.Definitions)
}

// Close releases resources held by the loader.
func (l *Loader) Close() error {
	return l.provider.Close()
}

// Provider returns the underlying provider.
func (l *Loader) Provider() provider.Provider {
	return l.provider
}

// parseBytes parses YAML, falling back to JSON.
func parseBytes(data []byte) (map[string]any, error) {
	var result map[string]any
	if err := yaml.Unmarshal(data, &result); err == nil {
		if result == nil {
			result = map[string]any{}
		}
		return result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse as YAML or JSON: %w", err)
	}
	return result, nil
}

// decode decodes a map into output using mapstructure with the yaml tags.
func decode(input any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}
	return nil
}

// DecodeSettings decodes a hook's free-form settings into a typed struct
// keyed by yaml tags.
func DecodeSettings(settings map[string]any, out any) error {
	if settings == nil {
		settings = map[string]any{}
	}
	return decode(settings, out)
}

// LoadConfig creates a loader for opts and loads the config once.
func LoadConfig(ctx context.Context, opts provider.ProviderConfig) (*Config, *Loader, error) {
	p, err := provider.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}

	loader := NewLoader(p)
	cfg, err := loader.Load(ctx)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return cfg, loader, nil
}

// LoadConfigFile loads config from a local file.
func LoadConfigFile(ctx context.Context, path string) (*Config, *Loader, error) {
	return LoadConfig(ctx, provider.ProviderConfig{
		Type: provider.TypeFile,
		Path: path,
	})
}

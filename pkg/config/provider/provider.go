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

// Package provider defines the config source abstraction.
//
// Providers load raw configuration bytes from a file, Consul, etcd or
// ZooKeeper and signal when the source changes.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Type identifies the config source type.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

// DefaultDialTimeout bounds connection setup for remote providers.
const DefaultDialTimeout = 10 * time.Second

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "file", "":
		return TypeFile, nil
	case "consul":
		return TypeConsul, nil
	case "etcd":
		return TypeEtcd, nil
	case "zookeeper", "zk":
		return TypeZookeeper, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
}

// Provider abstracts config sources.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Type returns the provider type for logging/debugging.
	Type() Type

	// Load reads raw config bytes from the source.
	Load(ctx context.Context) ([]byte, error)

	// Watch starts watching for changes and signals via the returned channel.
	// Cancel the context to stop watching; the channel is closed then.
	// Returns nil channel if watching is not supported.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases any resources held by the provider.
	Close() error
}

// ProviderConfig configures provider creation.
type ProviderConfig struct {
	// Type specifies the provider type (file, consul, etcd, zookeeper).
	Type Type

	// Path is the config path (file path or key path).
	Path string

	// Endpoints for remote providers (consul, etcd, zookeeper).
	Endpoints []string

	// DialTimeout for remote providers. Zero means DefaultDialTimeout.
	DialTimeout time.Duration
}

func (c ProviderConfig) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return DefaultDialTimeout
}

// New creates a Provider based on ProviderConfig.
func New(opts ProviderConfig) (Provider, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	switch opts.Type {
	case TypeFile, "":
		return NewFileProvider(opts.Path)
	case TypeConsul:
		return NewConsulProvider(opts)
	case TypeEtcd:
		return NewEtcdProvider(opts)
	case TypeZookeeper:
		return NewZookeeperProvider(opts)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", opts.Type)
	}
}

// notify performs a non-blocking send; a pending signal already covers
// the change.
func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

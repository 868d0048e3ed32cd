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

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/consul/api"
)

// consulWaitTime is the blocking query window for KV watches.
const consulWaitTime = 5 * time.Minute

// ConsulProvider loads config from a Consul KV key.
type ConsulProvider struct {
	client *api.Client
	key    string
}

// NewConsulProvider creates a provider backed by Consul KV. The first
// endpoint is used as the agent address; with none, the api defaults
// (CONSUL_HTTP_ADDR or localhost:8500) apply.
func NewConsulProvider(opts ProviderConfig) (*ConsulProvider, error) {
	cfg := api.DefaultConfig()
	if len(opts.Endpoints) > 0 {
		cfg.Address = opts.Endpoints[0]
	}
	cfg.WaitTime = consulWaitTime

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return &ConsulProvider{client: client, key: opts.Path}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the key's value.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.get(ctx, 0)
	if err != nil {
		return nil, err
	}
	return pair.Value, nil
}

func (p *ConsulProvider) get(ctx context.Context, waitIndex uint64) (*api.KVPair, *api.QueryMeta, error) {
	q := (&api.QueryOptions{WaitIndex: waitIndex}).WithContext(ctx)
	pair, meta, err := p.client.KV().Get(p.key, q)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, meta, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair, meta, nil
}

// Watch runs blocking queries against the key and signals whenever its
// modify index advances.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	_, meta, err := p.get(ctx, 0)
	if err != nil {
		return nil, err
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		index := meta.LastIndex
		for {
			pair, meta, err := p.get(ctx, index)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				slog.Warn("Consul watch failed", "key", p.key, "error", err)
				if !sleepCtx(ctx, time.Second) {
					return
				}
				continue
			}
			// Index resets must restart from zero.
			if meta.LastIndex < index {
				index = 0
				continue
			}
			if meta.LastIndex > index && pair != nil {
				index = meta.LastIndex
				notify(ch)
			}
		}
	}()

	slog.Info("Watching consul key", "key", p.key)
	return ch, nil
}

// Close is a no-op; the consul client holds no persistent connection.
func (p *ConsulProvider) Close() error {
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var (
	_ Provider = (*ConsulProvider)(nil)

	errNoEndpoints = errors.New("at least one endpoint is required")
)

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
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZookeeperProvider loads config from a ZooKeeper node.
type ZookeeperProvider struct {
	conn *zk.Conn
	path string
}

// NewZookeeperProvider connects to the given ZooKeeper ensemble.
func NewZookeeperProvider(opts ProviderConfig) (*ZookeeperProvider, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper: %w", errNoEndpoints)
	}
	conn, _, err := zk.Connect(opts.Endpoints, opts.dialTimeout())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return &ZookeeperProvider{conn: conn, path: opts.Path}, nil
}

// Type returns TypeZookeeper.
func (p *ZookeeperProvider) Type() Type {
	return TypeZookeeper
}

// Load reads the node's data.
func (p *ZookeeperProvider) Load(ctx context.Context) ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zookeeper path %s: %w", p.path, err)
	}
	return data, nil
}

// Watch re-arms a data watch after every event. ZooKeeper watches are
// one-shot.
func (p *ZookeeperProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)
		for {
			_, _, events, err := p.conn.GetW(p.path)
			if err != nil {
				slog.Warn("Zookeeper watch failed", "path", p.path, "error", err)
				if !sleepCtx(ctx, time.Second) {
					return
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				switch ev.Type {
				case zk.EventNodeDataChanged, zk.EventNodeCreated:
					notify(ch)
				case zk.EventNodeDeleted:
					slog.Warn("Zookeeper config node was deleted", "path", p.path)
				case zk.EventNotWatching:
					slog.Warn("Zookeeper watch lost", "path", p.path)
				}
			}
		}
	}()

	slog.Info("Watching zookeeper node", "path", p.path)
	return ch, nil
}

// Close closes the session.
func (p *ZookeeperProvider) Close() error {
	p.conn.Close()
	return nil
}

var _ Provider = (*ZookeeperProvider)(nil)

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

// Package queue publishes hook events to Redis channels, lists and
// streams.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
)

// Type is the capability label hooks use to select this capability.
const Type = "queue"

// Kind selects the Redis primitive a message is written with.
type Kind string

const (
	KindPublish Kind = "publish" // PUBLISH channel
	KindList    Kind = "list"    // RPUSH key
	KindStream  Kind = "stream"  // XADD key
)

// Settings are the per-hook settings of a queue hook.
//
// Example:
//
//	settings:
//	  kind: stream
//	  target: hookd:events
//	  max_len: 10000
type Settings struct {
	Kind   Kind   `yaml:"kind"`
	Target string `yaml:"target"`

	// Message overrides the default JSON-encoded event.
	Message string `yaml:"message"`

	// MaxLen approximately trims streams. Zero keeps everything.
	MaxLen int64 `yaml:"max_len"`
}

// Publisher is the subset of Redis operations the capability needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg []byte) (int64, error)
	Push(ctx context.Context, key string, msg []byte) (int64, error)
	Append(ctx context.Context, stream string, fields map[string]any, maxLen int64) (string, error)
	Close() error
}

// RedisPublisher implements Publisher with go-redis.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a publisher. No connection is made until the
// first command.
func NewRedisPublisher(cfg config.RedisConfig) *RedisPublisher {
	return &RedisPublisher{client: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, msg []byte) (int64, error) {
	return p.client.Publish(ctx, channel, msg).Result()
}

func (p *RedisPublisher) Push(ctx context.Context, key string, msg []byte) (int64, error) {
	return p.client.RPush(ctx, key, msg).Result()
}

func (p *RedisPublisher) Append(ctx context.Context, stream string, fields map[string]any, maxLen int64) (string, error) {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: fields,
	}).Result()
}

// Ping checks connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Capability writes messages to Redis.
type Capability struct {
	publisher Publisher
}

// New creates a queue capability over publisher.
func New(publisher Publisher) *Capability {
	return &Capability{publisher: publisher}
}

func (c *Capability) Type() string { return Type }

// CanExecute accepts hooks that name a target.
func (c *Capability) CanExecute(hc hooks.Context) bool {
	_, ok := hc.Setting("target")
	return ok
}

// Prepare validates the settings.
func (c *Capability) Prepare(_ context.Context, hc hooks.Context) error {
	_, err := decode(hc)
	return err
}

// Execute writes one message.
func (c *Capability) Execute(ctx context.Context, hc hooks.Context) (executor.Outcome, error) {
	start := time.Now()

	s, err := decode(hc)
	if err != nil {
		return executor.Outcome{}, err
	}
	msg, err := message(s, hc)
	if err != nil {
		return executor.Outcome{}, err
	}

	var output string
	switch s.Kind {
	case KindPublish:
		var receivers int64
		receivers, err = c.publisher.Publish(ctx, s.Target, msg)
		output = fmt.Sprintf("published to %s (%d receivers)", s.Target, receivers)
	case KindList:
		var length int64
		length, err = c.publisher.Push(ctx, s.Target, msg)
		output = fmt.Sprintf("pushed to %s (length %d)", s.Target, length)
	case KindStream:
		var id string
		id, err = c.publisher.Append(ctx, s.Target, map[string]any{
			"event":   string(hc.Event.Type),
			"hook":    hc.Hook.ID,
			"payload": msg,
		}, s.MaxLen)
		output = fmt.Sprintf("appended to %s as %s", s.Target, id)
	}
	if err != nil {
		if ctx.Err() != nil {
			return executor.Outcome{}, ctx.Err()
		}
		return executor.Failed(fmt.Sprintf("redis %s failed: %v", s.Kind, err), time.Since(start)), nil
	}
	return executor.Succeeded(output, time.Since(start)), nil
}

// EstimatedDuration is a scheduling hint.
func (c *Capability) EstimatedDuration() time.Duration { return 50 * time.Millisecond }

// DefaultConfig retries twice over short delays.
func (c *Capability) DefaultConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.MaxRetries = 2
	cfg.RetryDelay = 200 * time.Millisecond
	return cfg
}

// Close closes the publisher.
func (c *Capability) Close() error {
	return c.publisher.Close()
}

func message(s Settings, hc hooks.Context) ([]byte, error) {
	if s.Message != "" {
		return []byte(config.ExpandEnv(s.Message)), nil
	}
	data, err := json.Marshal(hc.Event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}

func decode(hc hooks.Context) (Settings, error) {
	var s Settings
	if err := config.DecodeSettings(hc.Hook.Settings, &s); err != nil {
		return s, fmt.Errorf("invalid queue settings: %w", err)
	}
	s.Kind = Kind(strings.ToLower(strings.TrimSpace(string(s.Kind))))
	if s.Kind == "" {
		s.Kind = KindPublish
	}
	switch s.Kind {
	case KindPublish, KindList, KindStream:
	default:
		return s, fmt.Errorf("unknown kind %q (valid: publish, list, stream)", s.Kind)
	}
	if s.Target == "" {
		return s, errors.New("target is required")
	}
	if s.MaxLen < 0 {
		return s, errors.New("max_len must be non-negative")
	}
	return s, nil
}

var (
	_ executor.Capability = (*Capability)(nil)
	_ executor.Preparer   = (*Capability)(nil)
	_ executor.Hinter     = (*Capability)(nil)
	_ Publisher           = (*RedisPublisher)(nil)
)

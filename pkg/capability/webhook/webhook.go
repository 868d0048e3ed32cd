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

// Package webhook delivers hook events to HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
	"github.com/kadirpekel/hookd/pkg/httpclient"
)

// Type is the capability label hooks use to select this capability.
const Type = "webhook"

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Settings are the per-hook settings of a webhook hook.
type Settings struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
}

func (s *Settings) normalize() error {
	if s.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	s.Method = strings.ToUpper(strings.TrimSpace(s.Method))
	if s.Method == "" {
		s.Method = http.MethodPost
	}
	if !allowedMethods[s.Method] {
		return fmt.Errorf("unsupported method %q", s.Method)
	}
	return nil
}

// Payload is the JSON document sent to the endpoint.
type Payload struct {
	Event       EventPayload      `json:"event"`
	Hook        HookPayload       `json:"hook"`
	Environment map[string]string `json:"environment,omitempty"`
}

type EventPayload struct {
	Type      hooks.EventType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
}

type HookPayload struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	WorkingDir string `json:"working_dir,omitempty"`
}

// NewPayload builds the payload for a hook context.
func NewPayload(hc hooks.Context) Payload {
	return Payload{
		Event: EventPayload{
			Type:      hc.Event.Type,
			Timestamp: hc.Event.Timestamp,
			SessionID: hc.Event.SessionID,
			TaskID:    hc.Event.TaskID,
			Data:      hc.Event.Data,
		},
		Hook: HookPayload{
			ID:         hc.Hook.ID,
			Type:       hc.Hook.Type,
			WorkingDir: hc.WorkingDir,
		},
		Environment: hc.Environment,
	}
}

// Capability posts events to webhooks.
type Capability struct {
	client  *httpclient.Client
	timeout time.Duration
}

// New creates a webhook capability.
func New(cfg config.WebhookConfig) (*Capability, error) {
	client, err := httpclient.NewWithTLS(
		&httpclient.TLSConfig{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			CACertificate:      cfg.CACertificate,
		},
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithUserAgent(cfg.UserAgent),
		httpclient.WithHeaders(cfg.Headers),
		httpclient.WithMaxBodyBytes(cfg.MaxResponseBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultWebhookTimeout
	}
	return &Capability{client: client, timeout: timeout}, nil
}

func (c *Capability) Type() string { return Type }

// CanExecute accepts hooks that name a url.
func (c *Capability) CanExecute(hc hooks.Context) bool {
	v, ok := hc.Setting("url")
	return ok && v != ""
}

// Prepare validates the settings.
func (c *Capability) Prepare(_ context.Context, hc hooks.Context) error {
	_, err := decode(hc)
	return err
}

// Execute sends one request.
func (c *Capability) Execute(ctx context.Context, hc hooks.Context) (executor.Outcome, error) {
	start := time.Now()

	s, err := decode(hc)
	if err != nil {
		return executor.Outcome{}, err
	}

	var body *bytes.Reader
	if s.Method == http.MethodGet {
		body = bytes.NewReader(nil)
	} else {
		data, err := json.Marshal(NewPayload(hc))
		if err != nil {
			return executor.Outcome{}, fmt.Errorf("failed to encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, s.Method, s.URL, body)
	if err != nil {
		return executor.Outcome{}, fmt.Errorf("failed to build request: %w", err)
	}
	if s.Method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Hook-Event", string(hc.Event.Type))
	req.Header.Set("X-Hook-ID", hc.Hook.ID)
	for k, v := range s.Headers {
		req.Header.Set(k, config.ExpandEnv(v))
	}

	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	var statusErr *httpclient.StatusError
	switch {
	case errors.As(err, &statusErr):
		out := executor.Failed(statusErr.Error(), elapsed)
		out.Metadata = map[string]any{
			"status_code": statusErr.StatusCode,
			"temporary":   statusErr.Temporary(),
		}
		if statusErr.RetryAfter > 0 {
			out.Metadata["retry_after"] = statusErr.RetryAfter.String()
		}
		return out, nil
	case err != nil:
		if ctx.Err() != nil {
			return executor.Outcome{}, ctx.Err()
		}
		return executor.Failed(fmt.Sprintf("request failed: %v", err), elapsed), nil
	}

	out := executor.Succeeded(string(resp.Body), elapsed)
	out.Metadata = map[string]any{"status_code": resp.StatusCode}
	if resp.Truncated {
		out.Metadata["truncated"] = true
	}
	return out, nil
}

// EstimatedDuration is a scheduling hint.
func (c *Capability) EstimatedDuration() time.Duration { return time.Second }

// DefaultConfig bounds attempts by the HTTP timeout and retries twice.
func (c *Capability) DefaultConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.Timeout = c.timeout
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Second
	return cfg
}

func decode(hc hooks.Context) (Settings, error) {
	var s Settings
	if err := config.DecodeSettings(hc.Hook.Settings, &s); err != nil {
		return s, fmt.Errorf("invalid webhook settings: %w", err)
	}
	if err := s.normalize(); err != nil {
		return s, err
	}
	return s, nil
}

var (
	_ executor.Capability = (*Capability)(nil)
	_ executor.Preparer   = (*Capability)(nil)
	_ executor.Hinter     = (*Capability)(nil)
)

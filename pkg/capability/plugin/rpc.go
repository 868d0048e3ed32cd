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

package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"

	"github.com/kadirpekel/hookd/pkg/hooks"
)

// PluginName is the name a hook plugin is dispensed under.
const PluginName = "hook"

// Handshake is shared by hookd and every hook plugin binary. A binary run
// without the cookie exits with a hint instead of serving.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "HOOKD_PLUGIN",
	MagicCookieValue: "hook",
}

// Request is the payload sent to a plugin. Event and Settings are JSON so
// arbitrary nested values survive the gob transport.
type Request struct {
	HookID      string
	WorkingDir  string
	Environment map[string]string
	Event       []byte
	Settings    []byte
}

// NewRequest builds a request from a hook context.
func NewRequest(hc hooks.Context) (Request, error) {
	event, err := json.Marshal(hc.Event)
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode event: %w", err)
	}
	settings, err := json.Marshal(hc.Hook.Settings)
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode settings: %w", err)
	}
	return Request{
		HookID:      hc.Hook.ID,
		WorkingDir:  hc.WorkingDir,
		Environment: hc.Environment,
		Event:       event,
		Settings:    settings,
	}, nil
}

// DecodeEvent returns the triggering event.
func (r Request) DecodeEvent() (hooks.Event, error) {
	var e hooks.Event
	err := json.Unmarshal(r.Event, &e)
	return e, err
}

// DecodeSettings unmarshals the hook's settings into out.
func (r Request) DecodeSettings(out any) error {
	if len(r.Settings) == 0 {
		return nil
	}
	return json.Unmarshal(r.Settings, out)
}

// Response is what a plugin returns. A returned error is a transport or
// plugin fault; Success=false with Error is an ordinary hook failure.
type Response struct {
	Success bool
	Output  string
	Error   string
}

// Hook is implemented by plugin authors.
type Hook interface {
	Execute(req Request) (Response, error)
}

// HookPlugin binds Hook to the net/rpc protocol.
type HookPlugin struct {
	Impl Hook
}

func (p *HookPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (p *HookPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// RPCServer is the plugin-side net/rpc receiver.
type RPCServer struct {
	Impl Hook
}

func (s *RPCServer) Execute(req Request, resp *Response) error {
	r, err := s.Impl.Execute(req)
	*resp = r
	return err
}

// RPCClient is the host-side stub.
type RPCClient struct {
	client *rpc.Client
}

// NewRPCClient wraps an established rpc client.
func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{client: c}
}

// Execute implements Hook.
func (c *RPCClient) Execute(req Request) (Response, error) {
	return c.ExecuteContext(context.Background(), req)
}

// ExecuteContext calls the plugin and abandons the call when ctx is done.
// The plugin keeps running; the reply is discarded.
func (c *RPCClient) ExecuteContext(ctx context.Context, req Request) (Response, error) {
	var resp Response
	call := c.client.Go("Plugin.Execute", req, &resp, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return resp, call.Error
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Serve runs impl as a plugin. Call it from the plugin binary's main.
//
//	func main() {
//	    plugin.Serve(&MyHook{})
//	}
func Serve(impl Hook) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: goplugin.PluginSet{
			PluginName: &HookPlugin{Impl: impl},
		},
	})
}

var (
	_ goplugin.Plugin = (*HookPlugin)(nil)
	_ Hook            = (*RPCClient)(nil)
)

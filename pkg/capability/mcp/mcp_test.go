package mcp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/hooks"
)

func testServer() *server.MCPServer {
	s := server.NewMCPServer("hook-tools", "1.0.0", server.WithToolCapabilities(true))

	s.AddTool(
		mcp.NewTool("echo", mcp.WithString("text", mcp.Required())),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("echo: " + req.GetString("text", "")), nil
		},
	)
	s.AddTool(
		mcp.NewTool("reject"),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("policy violation"), nil
		},
	)
	return s
}

func newCapability(dials *atomic.Int32) *Capability {
	srv := testServer()
	return New(
		config.MCPConfig{Servers: map[string]*config.MCPServerConfig{
			"tools": {Transport: "stdio", Command: "unused"},
		}},
		WithDialer(func(ctx context.Context, name string, cfg *config.MCPServerConfig) (*client.Client, error) {
			dials.Add(1)
			return client.NewInProcessClient(srv)
		}),
	)
}

func hookContext(settings map[string]any) hooks.Context {
	return hooks.NewSnapshot(hooks.NewEvent(hooks.EventMCPToolAfter, nil), "/", nil).For(hooks.Definition{
		ID: "audit-tool", Event: hooks.EventMCPToolAfter, Type: Type, Settings: settings,
	})
}

func TestExecute_CallsTool(t *testing.T) {
	var dials atomic.Int32
	c := newCapability(&dials)
	defer c.Close()

	for i := 0; i < 2; i++ {
		out, err := c.Execute(context.Background(), hookContext(map[string]any{
			"server":    "tools",
			"tool":      "echo",
			"arguments": map[string]any{"text": "hi"},
		}))
		require.NoError(t, err)
		assert.True(t, out.Success, out.Error)
		assert.Equal(t, "echo: hi", out.Output)
	}

	assert.Equal(t, int32(1), dials.Load())
	assert.Equal(t, []string{"tools"}, c.Sessions())

	require.NoError(t, c.Close())
	assert.Empty(t, c.Sessions())
}

func TestExecute_SSESessionOutlivesAttempt(t *testing.T) {
	ts := server.NewTestServer(testServer())
	defer ts.Close()

	c := New(config.MCPConfig{Servers: map[string]*config.MCPServerConfig{
		"tools": {Transport: "sse", URL: ts.URL + "/sse"},
	}})
	defer c.Close()

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		out, err := c.Execute(ctx, hookContext(map[string]any{
			"server":    "tools",
			"tool":      "echo",
			"arguments": map[string]any{"text": "hi"},
		}))
		cancel()
		require.NoError(t, err)
		assert.True(t, out.Success, out.Error)
		assert.Equal(t, "echo: hi", out.Output)

		// Let the cancellation reach the transport before the next call.
		time.Sleep(50 * time.Millisecond)
	}
	assert.Equal(t, []string{"tools"}, c.Sessions())
}

func TestExecute_SlowServerDoesNotBlockOthers(t *testing.T) {
	srv := testServer()
	release := make(chan struct{})
	c := New(
		config.MCPConfig{Servers: map[string]*config.MCPServerConfig{
			"slow":  {Transport: "stdio", Command: "unused"},
			"tools": {Transport: "stdio", Command: "unused"},
		}},
		WithDialer(func(ctx context.Context, name string, cfg *config.MCPServerConfig) (*client.Client, error) {
			if name == "slow" {
				<-release
			}
			return client.NewInProcessClient(srv)
		}),
	)
	defer c.Close()

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_, _ = c.Execute(context.Background(), hookContext(map[string]any{"server": "slow", "tool": "echo"}))
	}()

	// Give the slow dial time to start.
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		out, err := c.Execute(context.Background(), hookContext(map[string]any{
			"server": "tools", "tool": "echo", "arguments": map[string]any{"text": "fast"},
		}))
		assert.NoError(t, err)
		assert.True(t, out.Success, out.Error)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("call to a healthy server waited on a slow dial")
	}
	close(release)
	<-slowDone
}

func TestExecute_AfterClose(t *testing.T) {
	var dials atomic.Int32
	c := newCapability(&dials)
	require.NoError(t, c.Close())

	out, err := c.Execute(context.Background(), hookContext(map[string]any{"server": "tools", "tool": "echo"}))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "closed")
	assert.Zero(t, dials.Load())
}

func TestExecute_ToolError(t *testing.T) {
	var dials atomic.Int32
	c := newCapability(&dials)
	defer c.Close()

	out, err := c.Execute(context.Background(), hookContext(map[string]any{"server": "tools", "tool": "reject"}))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "policy violation", out.Error)
}

func TestExecute_DialFailure(t *testing.T) {
	c := New(config.MCPConfig{Servers: map[string]*config.MCPServerConfig{"tools": {Transport: "sse"}}})

	out, err := c.Execute(context.Background(), hookContext(map[string]any{"server": "tools", "tool": "echo"}))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "url is required for sse")
}

func TestPrepare(t *testing.T) {
	var dials atomic.Int32
	c := newCapability(&dials)
	ctx := context.Background()

	assert.NoError(t, c.Prepare(ctx, hookContext(map[string]any{"server": "tools", "tool": "echo"})))
	assert.ErrorContains(t, c.Prepare(ctx, hookContext(map[string]any{"server": "tools"})), "tool is required")
	assert.ErrorContains(t, c.Prepare(ctx, hookContext(map[string]any{"tool": "echo"})), "server is required")
	assert.ErrorContains(t, c.Prepare(ctx, hookContext(map[string]any{"server": "other", "tool": "echo"})), `unknown mcp server "other"`)
	assert.Zero(t, dials.Load())
}

func TestEnvSlice(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B=2"}, envSlice(map[string]string{"B": "2", "A": "1"}))
}

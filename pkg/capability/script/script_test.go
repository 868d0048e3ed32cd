package script

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/hooks"
)

func hookContext(t *testing.T, settings map[string]any) hooks.Context {
	t.Helper()
	event := hooks.NewEvent(hooks.EventTaskStart, map[string]any{"file": "main.go"}).
		WithSession("s-1").
		WithTask("t-9")
	snap := hooks.NewSnapshot(event, t.TempDir(), map[string]string{"FROM_SNAPSHOT": "yes"})
	return snap.For(hooks.Definition{
		ID:          "lint",
		Event:       hooks.EventTaskStart,
		Type:        Type,
		Environment: map[string]string{"FROM_HOOK": "also"},
		Settings:    settings,
	})
}

func TestExecute_Success(t *testing.T) {
	c := New(config.ScriptConfig{Environment: map[string]string{"FROM_CAPABILITY": "base"}})
	hc := hookContext(t, map[string]any{
		"command": `echo "$HOOK_EVENT_TYPE $HOOK_ID $HOOK_SESSION_ID $HOOK_TASK_ID $FROM_CAPABILITY $FROM_SNAPSHOT $FROM_HOOK"`,
	})

	out, err := c.Execute(context.Background(), hc)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "task_start lint s-1 t-9 base yes also\n", out.Output)
	assert.Equal(t, 0, out.Metadata["exit_code"])
}

func TestExecute_WorkingDir(t *testing.T) {
	c := New(config.ScriptConfig{})
	hc := hookContext(t, map[string]any{"command": `test "$(pwd -P)" = "$(cd "$HOOK_WORKING_DIR" && pwd -P)"`})

	out, err := c.Execute(context.Background(), hc)
	require.NoError(t, err)
	assert.True(t, out.Success, out.Error)
}

func TestExecute_NonZeroExit(t *testing.T) {
	c := New(config.ScriptConfig{})
	hc := hookContext(t, map[string]any{"command": "echo partial; echo oops >&2; exit 3"})

	out, err := c.Execute(context.Background(), hc)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "script failed with exit code 3: oops", out.Error)
	assert.Equal(t, "partial\n", out.Output)
	assert.Equal(t, 3, out.Metadata["exit_code"])
}

func TestExecute_ArgvList(t *testing.T) {
	c := New(config.ScriptConfig{})
	hc := hookContext(t, map[string]any{"command": []any{"printf", "%s-%s", "a", 7}})

	out, err := c.Execute(context.Background(), hc)
	require.NoError(t, err)
	assert.Equal(t, "a-7", out.Output)
}

func TestExecute_StdinEvent(t *testing.T) {
	c := New(config.ScriptConfig{})
	hc := hookContext(t, map[string]any{"command": "cat", "stdin_event": true})

	out, err := c.Execute(context.Background(), hc)
	require.NoError(t, err)
	assert.Contains(t, out.Output, `"type":"task_start"`)
	assert.Contains(t, out.Output, `"file":"main.go"`)
}

func TestExecute_TruncatesOutput(t *testing.T) {
	c := New(config.ScriptConfig{MaxOutputBytes: 8})
	hc := hookContext(t, map[string]any{"command": "printf 0123456789abcdef"})

	out, err := c.Execute(context.Background(), hc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Output, "01234567"))
	assert.Contains(t, out.Output, "[output truncated]")
	assert.Equal(t, true, out.Metadata["truncated"])
}

func TestExecute_ContextCancelled(t *testing.T) {
	c := New(config.ScriptConfig{})
	hc := hookContext(t, map[string]any{"command": "sleep 5"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Execute(ctx, hc)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestPrepare(t *testing.T) {
	c := New(config.ScriptConfig{})

	assert.NoError(t, c.Prepare(context.Background(), hookContext(t, map[string]any{"command": "true"})))
	assert.ErrorContains(t, c.Prepare(context.Background(), hookContext(t, nil)), "command is required")
	assert.ErrorContains(t, c.Prepare(context.Background(), hookContext(t, map[string]any{"command": "  "})), "command is empty")
	assert.ErrorContains(t, c.Prepare(context.Background(), hookContext(t, map[string]any{"command": 42})), "must be a string or a list")

	hc := hookContext(t, map[string]any{"command": "true"})
	hc.WorkingDir = "/definitely/not/here"
	assert.ErrorContains(t, c.Prepare(context.Background(), hc), "working directory")
}

func TestCanExecuteAndHints(t *testing.T) {
	c := New(config.ScriptConfig{})
	assert.Equal(t, Type, c.Type())
	assert.True(t, c.CanExecute(hookContext(t, map[string]any{"command": "true"})))
	assert.False(t, c.CanExecute(hookContext(t, nil)))
	assert.Equal(t, 1, c.DefaultConfig().MaxRetries)
	assert.Equal(t, 5*time.Second, c.EstimatedDuration())
}

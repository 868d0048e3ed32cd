package filesystem

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/hooks"
)

func newCapability() *Capability {
	return New(config.FilesystemConfig{DeniedPaths: config.DefaultDeniedPaths})
}

func hookContext(dir string, settings map[string]any) hooks.Context {
	return hooks.NewSnapshot(hooks.NewEvent(hooks.EventPatchAfter, nil), dir, nil).For(hooks.Definition{
		ID: "fs", Event: hooks.EventPatchAfter, Type: Type, Settings: settings,
	})
}

func exec(t *testing.T, dir string, settings map[string]any) (string, bool, string) {
	t.Helper()
	out, err := newCapability().Execute(context.Background(), hookContext(dir, settings))
	require.NoError(t, err)
	return out.Output, out.Success, out.Error
}

func TestOperations(t *testing.T) {
	dir := t.TempDir()

	_, ok, _ := exec(t, dir, map[string]any{"operation": "create", "path": "notes/log.txt", "content": "one\n"})
	require.True(t, ok)

	_, ok, _ = exec(t, dir, map[string]any{"operation": "append", "path": "notes/log.txt", "content": "two\n"})
	require.True(t, ok)

	output, ok, _ := exec(t, dir, map[string]any{"operation": "read", "path": "notes/log.txt"})
	require.True(t, ok)
	assert.Equal(t, "one\ntwo\n", output)

	_, ok, _ = exec(t, dir, map[string]any{"operation": "write", "path": "notes/log.txt", "content": "reset"})
	require.True(t, ok)

	_, ok, _ = exec(t, dir, map[string]any{"operation": "copy", "path": "notes", "target": "backup"})
	require.True(t, ok)
	data, err := os.ReadFile(filepath.Join(dir, "backup", "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "reset", string(data))

	_, ok, _ = exec(t, dir, map[string]any{"operation": "move", "path": "backup/log.txt", "target": "moved.txt"})
	require.True(t, ok)
	assert.NoFileExists(t, filepath.Join(dir, "backup", "log.txt"))
	assert.FileExists(t, filepath.Join(dir, "moved.txt"))

	_, ok, _ = exec(t, dir, map[string]any{"operation": "chmod", "path": "moved.txt", "permissions": "0600"})
	require.True(t, ok)
	st, err := os.Stat(filepath.Join(dir, "moved.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	output, ok, _ = exec(t, dir, map[string]any{"operation": "info", "path": "moved.txt"})
	require.True(t, ok)
	var got pathInfo
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, "file", got.Type)
	assert.Equal(t, int64(5), got.Size)
	assert.Equal(t, "0600", got.Mode)

	_, ok, _ = exec(t, dir, map[string]any{"operation": "delete", "path": "notes"})
	require.True(t, ok)
	assert.NoDirExists(t, filepath.Join(dir, "notes"))

	_, ok, msg := exec(t, dir, map[string]any{"operation": "delete", "path": "notes"})
	assert.False(t, ok)
	assert.Contains(t, msg, "path does not exist")
}

func TestCreateDirectory(t *testing.T) {
	dir := t.TempDir()
	_, ok, _ := exec(t, dir, map[string]any{"operation": "create", "path": "a/b/c"})
	require.True(t, ok)
	assert.DirExists(t, filepath.Join(dir, "a", "b", "c"))

	_, ok, _ = exec(t, dir, map[string]any{"operation": "create", "path": "d.d", "directory": true})
	require.True(t, ok)
	assert.DirExists(t, filepath.Join(dir, "d.d"))
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "watched.txt")
	require.NoError(t, os.WriteFile(target, nil, 0o644))

	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = os.WriteFile(target, []byte("changed"), 0o644)
	}()

	output, ok, msg := exec(t, dir, map[string]any{"operation": "watch", "path": "watched.txt"})
	require.True(t, ok, msg)
	assert.Contains(t, output, "WRITE")
}

func TestWatch_ContextEnds(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := newCapability().Execute(ctx, hookContext(dir, map[string]any{"operation": "watch", "path": "."}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPrepare(t *testing.T) {
	c := newCapability()
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name     string
		settings map[string]any
		wantErr  string
	}{
		{"valid", map[string]any{"operation": "read", "path": "x"}, ""},
		{"missing operation", map[string]any{"path": "x"}, "operation is required"},
		{"unknown operation", map[string]any{"operation": "shred", "path": "x"}, "unknown operation"},
		{"missing path", map[string]any{"operation": "read"}, "path is required"},
		{"copy without target", map[string]any{"operation": "copy", "path": "x"}, "target is required for copy"},
		{"write without content", map[string]any{"operation": "write", "path": "x"}, "content is required for write"},
		{"chmod without permissions", map[string]any{"operation": "chmod", "path": "x"}, "permissions are required"},
		{"chmod too wide", map[string]any{"operation": "chmod", "path": "x", "permissions": "1777"}, "must be <= 0777"},
		{"chmod numeric", map[string]any{"operation": "chmod", "path": "x", "permissions": 0o644}, ""},
		{"denied path", map[string]any{"operation": "read", "path": "/etc/passwd"}, "operation not allowed on /etc"},
		{"denied target", map[string]any{"operation": "copy", "path": "x", "target": "/boot/x"}, "operation not allowed on /boot"},
		{"prefix is not denial", map[string]any{"operation": "read", "path": "/etcetera"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Prepare(ctx, hookContext(dir, tt.settings))
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestHints(t *testing.T) {
	c := newCapability()
	assert.Equal(t, Type, c.Type())
	assert.True(t, c.CanExecute(hookContext("/", map[string]any{"operation": "info"})))
	assert.False(t, c.CanExecute(hookContext("/", nil)))
	assert.Equal(t, 10*time.Second, c.DefaultConfig().Timeout)
}

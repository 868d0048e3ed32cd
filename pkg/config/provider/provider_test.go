package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{
		"":          TypeFile,
		"file":      TypeFile,
		"consul":    TypeConsul,
		"etcd":      TypeEtcd,
		"zk":        TypeZookeeper,
		"zookeeper": TypeZookeeper,
	} {
		got, err := ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseType("s3")
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(ProviderConfig{})
	assert.ErrorContains(t, err, "config path is required")

	_, err = New(ProviderConfig{Type: "s3", Path: "x"})
	assert.ErrorContains(t, err, "unknown provider type")

	_, err = New(ProviderConfig{Type: TypeEtcd, Path: "/hookd"})
	assert.ErrorIs(t, err, errNoEndpoints)

	_, err = New(ProviderConfig{Type: TypeZookeeper, Path: "/hookd"})
	assert.ErrorIs(t, err, errNoEndpoints)
}

func TestFileProvider_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hookd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\n"), 0o644))

	p, err := New(ProviderConfig{Path: path})
	require.NoError(t, err)
	defer p.Close()

	data, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "name: x\n", string(data))
	assert.Equal(t, TypeFile, p.Type())
}

func TestFileProvider_WatchSignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hookd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := p.Watch(ctx)
	require.NoError(t, err)

	// Writes to siblings are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b"), 0o644))
	select {
	case <-changes:
		t.Fatal("unexpected signal for unrelated file")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("c"), 0o644))
	select {
	case _, ok := <-changes:
		assert.True(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("no change signal")
	}

	cancel()
	select {
	case _, ok := <-changes:
		for ok {
			_, ok = <-changes
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestFileProvider_WatchAfterClose(t *testing.T) {
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "x.yaml"))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Watch(context.Background())
	assert.ErrorContains(t, err, "provider is closed")
}

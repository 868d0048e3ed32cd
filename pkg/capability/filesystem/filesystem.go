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

// Package filesystem performs file operations on behalf of hooks.
package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
)

// Type is the capability label hooks use to select this capability.
const Type = "filesystem"

// maxReadBytes bounds the content returned by read.
const maxReadBytes = 1 << 20

// Operation names a filesystem action.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpAppend Operation = "append"
	OpDelete Operation = "delete"
	OpCopy   Operation = "copy"
	OpMove   Operation = "move"
	OpChmod  Operation = "chmod"
	OpWatch  Operation = "watch"
	OpInfo   Operation = "info"
)

// Settings are the per-hook settings of a filesystem hook.
type Settings struct {
	Operation Operation `yaml:"operation"`
	Path      string    `yaml:"path"`
	Target    string    `yaml:"target"`
	Content   *string   `yaml:"content"`

	// Permissions is an octal string ("0644") or a number.
	Permissions any `yaml:"permissions"`

	// Directory makes create produce a directory.
	Directory bool `yaml:"directory"`
}

func (s Settings) mode() (fs.FileMode, error) {
	var perm uint64
	switch v := s.Permissions.(type) {
	case nil:
		return 0, errors.New("permissions are required for chmod")
	case string:
		n, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(v, "0o"), "0O"), 8, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid permissions %q: %w", v, err)
		}
		perm = n
	case int:
		if v < 0 {
			return 0, fmt.Errorf("invalid permissions %d", v)
		}
		perm = uint64(v)
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("invalid permissions %d", v)
		}
		perm = uint64(v)
	case uint64:
		perm = v
	default:
		return 0, fmt.Errorf("permissions must be an octal string or a number, got %T", v)
	}
	if perm > 0o777 {
		return 0, fmt.Errorf("invalid permissions %#o (must be <= 0777)", perm)
	}
	return fs.FileMode(perm), nil
}

func (s Settings) validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return errors.New("path is required")
	}
	switch s.Operation {
	case OpCreate, OpRead, OpDelete, OpWatch, OpInfo:
	case OpCopy, OpMove:
		if s.Target == "" {
			return fmt.Errorf("target is required for %s", s.Operation)
		}
	case OpWrite, OpAppend:
		if s.Content == nil {
			return fmt.Errorf("content is required for %s", s.Operation)
		}
	case OpChmod:
		if _, err := s.mode(); err != nil {
			return err
		}
	case "":
		return errors.New("operation is required")
	default:
		return fmt.Errorf("unknown operation %q", s.Operation)
	}
	return nil
}

// Capability performs filesystem operations.
type Capability struct {
	denied []string
}

// New creates a filesystem capability.
func New(cfg config.FilesystemConfig) *Capability {
	denied := make([]string, 0, len(cfg.DeniedPaths))
	for _, p := range cfg.DeniedPaths {
		if p = strings.TrimSpace(p); p != "" {
			denied = append(denied, filepath.Clean(p))
		}
	}
	return &Capability{denied: denied}
}

func (c *Capability) Type() string { return Type }

// CanExecute accepts hooks that name an operation.
func (c *Capability) CanExecute(hc hooks.Context) bool {
	_, ok := hc.Setting("operation")
	return ok
}

// Prepare validates settings and refuses denied paths.
func (c *Capability) Prepare(_ context.Context, hc hooks.Context) error {
	s, err := decode(hc)
	if err != nil {
		return err
	}
	_, _, err = c.paths(s, hc)
	return err
}

// Execute performs the operation once.
func (c *Capability) Execute(ctx context.Context, hc hooks.Context) (executor.Outcome, error) {
	start := time.Now()

	s, err := decode(hc)
	if err != nil {
		return executor.Outcome{}, err
	}
	path, target, err := c.paths(s, hc)
	if err != nil {
		return executor.Outcome{}, err
	}

	output, err := c.perform(ctx, s, path, target)
	if err != nil {
		if ctx.Err() != nil {
			return executor.Outcome{}, ctx.Err()
		}
		return executor.Failed(err.Error(), time.Since(start)), nil
	}
	out := executor.Succeeded(output, time.Since(start))
	out.Metadata = map[string]any{"operation": string(s.Operation), "path": path}
	return out, nil
}

func (c *Capability) perform(ctx context.Context, s Settings, path, target string) (string, error) {
	switch s.Operation {
	case OpCreate:
		return create(path, s)
	case OpRead:
		return read(path)
	case OpWrite:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("failed to create parent directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(*s.Content), 0o644); err != nil {
			return "", fmt.Errorf("failed to write file: %w", err)
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(*s.Content), path), nil
	case OpAppend:
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return "", fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		if _, err := f.WriteString(*s.Content); err != nil {
			return "", fmt.Errorf("failed to append: %w", err)
		}
		return fmt.Sprintf("appended %d bytes to %s", len(*s.Content), path), nil
	case OpDelete:
		if _, err := os.Lstat(path); err != nil {
			return "", fmt.Errorf("path does not exist: %s", path)
		}
		if err := os.RemoveAll(path); err != nil {
			return "", fmt.Errorf("failed to delete: %w", err)
		}
		return "deleted " + path, nil
	case OpCopy:
		if err := copyPath(path, target); err != nil {
			return "", err
		}
		return fmt.Sprintf("copied %s to %s", path, target), nil
	case OpMove:
		if err := movePath(path, target); err != nil {
			return "", err
		}
		return fmt.Sprintf("moved %s to %s", path, target), nil
	case OpChmod:
		mode, _ := s.mode()
		if err := os.Chmod(path, mode); err != nil {
			return "", fmt.Errorf("failed to change permissions: %w", err)
		}
		return fmt.Sprintf("changed permissions of %s to %#o", path, mode), nil
	case OpWatch:
		return watch(ctx, path)
	case OpInfo:
		return info(path)
	}
	return "", fmt.Errorf("unknown operation %q", s.Operation)
}

// EstimatedDuration is a scheduling hint.
func (c *Capability) EstimatedDuration() time.Duration { return 100 * time.Millisecond }

// DefaultConfig keeps filesystem operations short.
func (c *Capability) DefaultConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.Timeout = 10 * time.Second
	return cfg
}

// paths resolves path and target against the hook working directory and
// rejects denied locations.
func (c *Capability) paths(s Settings, hc hooks.Context) (string, string, error) {
	path, err := c.resolve(s.Path, hc.WorkingDir)
	if err != nil {
		return "", "", err
	}
	if s.Target == "" {
		return path, "", nil
	}
	target, err := c.resolve(s.Target, hc.WorkingDir)
	if err != nil {
		return "", "", err
	}
	return path, target, nil
}

func (c *Capability) resolve(p, workingDir string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(workingDir, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", p, err)
	}
	candidates := []string{abs}
	if real, err := filepath.EvalSymlinks(abs); err == nil && real != abs {
		candidates = append(candidates, real)
	}
	for _, cand := range candidates {
		for _, denied := range c.denied {
			if cand == denied || strings.HasPrefix(cand, denied+string(filepath.Separator)) {
				return "", fmt.Errorf("operation not allowed on %s", denied)
			}
		}
	}
	return abs, nil
}

func create(path string, s Settings) (string, error) {
	if s.Directory || (s.Content == nil && filepath.Ext(path) == "") {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
		return "created directory " + path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent directory: %w", err)
	}
	content := ""
	if s.Content != nil {
		content = *s.Content
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	return fmt.Sprintf("created file %s (%d bytes)", path, len(content)), nil
}

func read(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if st.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return string(data), nil
}

func copyPath(src, dst string) error {
	st, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("source does not exist: %s", src)
	}
	if !st.IsDir() {
		return copyFile(src, dst, st.Mode().Perm())
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		out := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(out, 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, out, fi.Mode().Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy: %w", err)
	}
	return out.Close()
}

func movePath(src, dst string) error {
	if _, err := os.Lstat(src); err != nil {
		return fmt.Errorf("source does not exist: %s", src)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename fails across devices.
	if err := copyPath(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

// watch blocks until the path changes or ctx ends.
func watch(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("path does not exist: %s", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return "", fmt.Errorf("failed to watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return "", errors.New("watcher closed")
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			return fmt.Sprintf("%s %s", ev.Op, ev.Name), nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return "", errors.New("watcher closed")
			}
			return "", fmt.Errorf("watch failed: %w", err)
		}
	}
}

type pathInfo struct {
	Path     string    `json:"path"`
	Type     string    `json:"type"`
	Size     int64     `json:"size"`
	Mode     string    `json:"mode"`
	Modified time.Time `json:"modified"`
}

func info(path string) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("path does not exist: %s", path)
	}
	kind := "other"
	switch {
	case st.IsDir():
		kind = "directory"
	case st.Mode().IsRegular():
		kind = "file"
	}
	data, err := json.Marshal(pathInfo{
		Path:     path,
		Type:     kind,
		Size:     st.Size(),
		Mode:     fmt.Sprintf("%#o", st.Mode().Perm()),
		Modified: st.ModTime().UTC(),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decode(hc hooks.Context) (Settings, error) {
	var s Settings
	if err := config.DecodeSettings(hc.Hook.Settings, &s); err != nil {
		return s, fmt.Errorf("invalid filesystem settings: %w", err)
	}
	s.Operation = Operation(strings.ToLower(strings.TrimSpace(string(s.Operation))))
	return s, s.validate()
}

var (
	_ executor.Capability = (*Capability)(nil)
	_ executor.Preparer   = (*Capability)(nil)
	_ executor.Hinter     = (*Capability)(nil)
)

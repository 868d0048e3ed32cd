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

// Package logger configures the process-wide slog logger.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	FormatSimple  = "simple"
	FormatVerbose = "verbose"
	FormatJSON    = "json"
)

const packagePrefix = "github.com/kadirpekel/hookd"

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
)

// ParseLevel converts a level name to slog.Level.
// Valid levels: debug, info, warn, error
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", levelStr)
	}
}

// ValidFormat reports whether format is a known output format.
func ValidFormat(format string) bool {
	switch format {
	case "", FormatSimple, FormatVerbose, FormatJSON:
		return true
	}
	return false
}

// filteringHandler hides records logged from outside this module unless the
// level is DEBUG.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.minLevel {
		return false
	}
	return h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || isOwnPackage(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func isOwnPackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	return strings.HasPrefix(fn.Name(), packagePrefix)
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m"
	case level >= slog.LevelWarn:
		return "\033[33m"
	case level >= slog.LevelInfo:
		return "\033[36m"
	default:
		return "\033[90m"
	}
}

func levelName(level slog.Level) string {
	s := strings.ToUpper(level.String())
	if s == "WARNING" {
		return "WARN"
	}
	return s
}

// textHandler renders "LEVEL message key=value ...", optionally prefixed
// with a timestamp and colored by level.
type textHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     slog.Leveler
	color     bool
	timestamp bool
	prefix    string
	attrs     []slog.Attr
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, record slog.Record) error {
	var buf strings.Builder

	if h.timestamp && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}
	if h.color {
		buf.WriteString(levelColor(record.Level))
		buf.WriteString(levelName(record.Level))
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(levelName(record.Level))
	}
	buf.WriteString(" ")
	buf.WriteString(record.Message)

	write := func(a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		buf.WriteString(" ")
		buf.WriteString(h.prefix)
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
	}
	for _, a := range h.attrs {
		write(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, buf.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

// NewHandler builds the handler for a format. Unknown formats fall back to
// slog's standard text output.
func NewHandler(w io.Writer, level slog.Level, format string, color bool) slog.Handler {
	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "", FormatSimple, FormatVerbose:
		handler = &textHandler{
			mu:        &sync.Mutex{},
			writer:    w,
			level:     level,
			color:     color,
			timestamp: format == FormatVerbose,
		}
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return &filteringHandler{handler: handler, minLevel: level}
}

// Init installs the default logger. Colors are used when output is a
// terminal and the format is not json.
func Init(level slog.Level, output *os.File, format string) {
	color := term.IsTerminal(int(output.Fd()))

	mu.Lock()
	defaultLogger = slog.New(NewHandler(output, level, format, color))
	mu.Unlock()

	slog.SetDefault(defaultLogger)
}

// OpenLogFile opens or creates a log file for appending.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

// GetLogger returns the default logger, initializing it on first use.
func GetLogger() *slog.Logger {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l == nil {
		Init(slog.LevelInfo, os.Stderr, FormatSimple)
		mu.Lock()
		l = defaultLogger
		mu.Unlock()
	}
	return l
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for profrag components.
//
// The logger is built on log/slog and writes to stderr by default, with an
// optional JSON log file alongside:
//
//	┌───────────────────────────────────────────┐
//	│                  Logger                   │
//	│  ┌──────────────┐   ┌──────────────────┐  │
//	│  │ stderr       │   │ log file (JSON)  │  │
//	│  │ text or JSON │   │ optional         │  │
//	│  └──────────────┘   └──────────────────┘  │
//	└───────────────────────────────────────────┘
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Service: "profrag"})
//	defer logger.Close()
//	logger.SetDefault() // route slog.Info etc. through this logger
//
// # Output Format
//
// With Format "auto" (the default) stderr gets human-readable text when it
// is a terminal and JSON otherwise, so containers emit machine-parseable
// logs without extra configuration. File logs are always JSON.
//
// # Security Considerations
//
// Nothing is redacted automatically. Callers must not log API keys or
// user conversation content:
//
//	// BAD
//	logger.Info("calling provider", "api_key", key)
//
//	// GOOD
//	logger.Info("calling provider", "api_key_present", key != "")
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	// Example: "server started", "stream completed"
	LevelInfo

	// LevelWarn is for recoverable problems.
	// Example: "schema check failed, continuing"
	LevelWarn

	// LevelError is for failed operations.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a case-insensitive level name to a Level.
//
// # Inputs
//
//   - s: "debug", "info", "warn"/"warning" or "error". Empty means info.
//
// # Outputs
//
//   - Level: The parsed level, LevelInfo on error.
//   - error: Non-nil for unrecognized names.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Output formats for Config.Format.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

// Config configures the Logger.
//
// A zero-value Config writes Info+ messages to stderr, as text on a
// terminal and JSON otherwise.
//
// Example, production with a log file:
//
//	Config{
//	    Level:   LevelInfo,
//	    Format:  FormatJSON,
//	    LogDir:  "/var/log/profrag",
//	    Service: "profrag",
//	}
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo
	Level Level

	// Format is "auto", "text" or "json" for the stderr handler.
	// Default: "auto"
	Format string

	// LogDir enables file logging. The file is named
	// "{Service}_{YYYY-MM-DD}.log" and is always JSON. Supports ~ expansion.
	// The directory is created with 0750 permissions if missing.
	LogDir string

	// Service is added to every entry as the "service" attribute.
	Service string

	// Quiet disables the stderr handler.
	Quiet bool

	// Output replaces stderr. Used by tests.
	Output io.Writer
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with stderr and file output.
//
// # Thread Safety
//
// Safe for concurrent use. Close must be called once, after all logging.
type Logger struct {
	slog *slog.Logger
	file *os.File
	mu   sync.Mutex
}

// New creates a Logger from config.
//
// # Description
//
// A log file that cannot be created is reported on stderr and skipped;
// logging never prevents the service from starting.
//
// # Outputs
//
//   - *Logger: Must be closed with Close to release the log file.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	var handlers []slog.Handler
	if !config.Quiet {
		if useJSON(config.Format, out) {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	logger := &Logger{}
	if config.LogDir != "" {
		file, err := openLogFile(config.LogDir, config.Service)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: file output disabled: %v\n", err)
		} else {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// useJSON resolves the stderr format. Auto picks text only for terminals.
func useJSON(format string, out io.Writer) bool {
	switch strings.ToLower(format) {
	case FormatJSON:
		return true
	case FormatText:
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return true
	}
	fd := f.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if service == "" {
		service = "profrag"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// SetDefault installs this logger as the process-wide slog default.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.slog)
}

// With returns a child Logger with additional attributes. The child shares
// the parent's file; only the parent should be closed.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// Close syncs and closes the log file, if any. Safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := errors.Join(l.file.Sync(), l.file.Close())
	l.file = nil
	return err
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out records to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			errs = append(errs, handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

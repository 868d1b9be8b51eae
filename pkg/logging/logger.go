// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for PermissionsEx components.
//
// The package is built on the standard library slog with extensions for
// multi-destination output:
//
//   - Default: stderr output for CLI compatibility
//   - Optional: JSON file logging with automatic directory creation
//   - Extensible: Exporter interface for forwarding to external systems
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("subject loaded", "type", "user", "identifier", id)
//
// # File Logging
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.permissionsex/logs",
//	    Service: "pex",
//	})
//	defer logger.Close()
//
// This creates files named `{service}_{date}.log` in JSON format.
//
// # Thread Safety
//
// Logger is safe for concurrent use; the underlying slog.Logger is
// thread-safe and mutable state is mutex-protected.
//
// This package does NOT redact sensitive data; callers must keep secrets
// out of log attributes.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity, ordered Debug < Info < Warn < Error.
// Setting a minimum level filters out everything below it.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota
	// LevelInfo is for normal operations (engine start, store writes).
	LevelInfo
	// LevelWarn is for recoverable issues (GC failures, degraded mode).
	LevelWarn
	// LevelError is for operation failures where the process continues.
	LevelError
)

// String returns the upper-case name of the level.
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
		return fmt.Sprintf("LEVEL(%d)", int(l))
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

// =============================================================================
// Configuration
// =============================================================================

// Config configures Logger behavior. A zero-value Config creates a logger
// that writes Info+ messages to stderr in text format.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo.
	Level Level

	// LogDir enables file logging to the given directory in addition to
	// stderr. Files are named "{Service}_{YYYY-MM-DD}.log" and always use
	// JSON. Supports ~ expansion. Default: "" (disabled).
	LogDir string

	// Service identifies the component and is attached to every entry as
	// the "service" attribute. Default: "" (no attribute).
	Service string

	// JSON switches stderr output to JSON. File logs are always JSON.
	JSON bool

	// Quiet disables stderr output; logs go only to file and exporter.
	Quiet bool

	// Exporter optionally receives every entry for forwarding to an
	// external system. Export failures never disrupt normal logging.
	Exporter Exporter
}

// =============================================================================
// Export extension
// =============================================================================

// Exporter forwards log entries to an external system (object storage, log
// aggregation, OTLP collector). Implementations should buffer internally:
// Export is called once per entry on the logging path and must not block.
type Exporter interface {
	// Export sends one entry. Errors are swallowed by the logger.
	Export(ctx context.Context, entry Entry) error
	// Flush sends all buffered entries; called during shutdown.
	Flush(ctx context.Context) error
	// Close releases resources; called after Flush.
	Close() error
}

// Entry is the exporter's view of one log record.
type Entry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// NopExporter discards everything. Useful as a placeholder in tests.
type NopExporter struct{}

func (NopExporter) Export(ctx context.Context, entry Entry) error { return nil }
func (NopExporter) Flush(ctx context.Context) error               { return nil }
func (NopExporter) Close() error                                  { return nil }

// BufferedExporter retains entries in memory. Tests use it to assert on
// logged output.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []Entry
}

// NewBufferedExporter creates an empty buffered exporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{}
}

func (e *BufferedExporter) Export(ctx context.Context, entry Entry) error {
	e.mu.Lock()
	e.entries = append(e.entries, entry)
	e.mu.Unlock()
	return nil
}

func (e *BufferedExporter) Flush(ctx context.Context) error { return nil }

func (e *BufferedExporter) Close() error { return nil }

// Entries returns a copy of everything exported so far.
func (e *BufferedExporter) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Entry(nil), e.entries...)
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps slog.Logger with multi-destination output and cleanup.
// Always Close a logger created with a LogDir or Exporter.
type Logger struct {
	slog     *slog.Logger
	config   Config
	file     *os.File
	exporter Exporter
	mu       sync.Mutex
}

// New creates a Logger for the given configuration.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	var handlers []slog.Handler
	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	logger := &Logger{config: config, exporter: config.Exporter}

	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0750); err == nil {
			service := config.Service
			if service == "" {
				service = "permissionsex"
			}
			filename := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
			file, err := os.OpenFile(filepath.Join(logDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
			if err == nil {
				logger.file = file
				handlers = append(handlers, slog.NewJSONHandler(file, opts))
			}
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		// Quiet with no file sink still needs a handler for slog to drive.
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

// Default returns a stderr text logger at Info level with service
// "permissionsex".
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "permissionsex"})
}

// Debug logs at Debug level with alternating key/value args.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs at Info level with alternating key/value args.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs at Warn level with alternating key/value args.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

// Error logs at Error level with alternating key/value args.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// With returns a child logger carrying the given attributes on every entry.
// The child shares this logger's file and exporter; Close the parent, not
// the child.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		config:   l.config,
		exporter: l.exporter,
	}
}

// Slog exposes the underlying slog.Logger for libraries that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes the exporter and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.exporter.Flush(ctx); err != nil {
			firstErr = err
		}
		cancel()
		if err := l.exporter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.exporter = nil
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.file = nil
	}
	return firstErr
}

func (l *Logger) log(level Level, msg string, args ...any) {
	switch level {
	case LevelDebug:
		l.slog.Debug(msg, args...)
	case LevelWarn:
		l.slog.Warn(msg, args...)
	case LevelError:
		l.slog.Error(msg, args...)
	default:
		l.slog.Info(msg, args...)
	}

	if l.exporter != nil && level >= l.config.Level {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		// Export failures are deliberately ignored.
		_ = l.exporter.Export(ctx, Entry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   msg,
			Service:   l.config.Service,
			Attrs:     argsToMap(args),
		})
		cancel()
	}
}

// =============================================================================
// Multi-destination handler
// =============================================================================

// multiHandler fans one record out to several slog handlers.
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
	var firstErr error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
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

// =============================================================================
// Helpers
// =============================================================================

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func argsToMap(args []any) map[string]any {
	attrs := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			attrs[key] = args[i+1]
		}
	}
	return attrs
}

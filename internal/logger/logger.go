// Package logger provides module-scoped structured logging built on log/slog.
//
// A root logger is created once from Config and handed down; packages take a
// Logger and scope it with Module:
//
//	root, err := logger.New(logger.Config{Level: "info"})
//	vmLog := root.Module("vm")
//	vmLog.Warn("attempted to yield nil", logger.String("shred", name))
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Field is a structured key/value pair
type Field = slog.Attr

// Logger is the logging surface every package depends on
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Enabled(level slog.Level) bool
	With(fields ...Field) Logger
	Module(name string) Logger
}

// Config selects level, format and destination
type Config struct {
	Level  string    // debug, info, warn, error
	Format string    // text or json
	File   string    // append to this rotating file instead of stderr
	Writer io.Writer // overrides File and stderr, used by tests

	// rotation of File; zero values take lumberjack's defaults
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Root is the top-level logger; it owns the log file, if any
type Root struct {
	Logger
	closer io.Closer
}

// Close releases the log file
func (r *Root) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// New creates the root logger
func New(cfg Config) (*Root, error) {
	w := cfg.Writer
	var closer io.Closer
	if w == nil && cfg.File != "" {
		// lumberjack opens lazily and does not create directories
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("unable to create log directory: %w", err)
		}
		f := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		w, closer = f, f
	}
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	default:
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return &Root{Logger: &moduleLogger{l: slog.New(h)}, closer: closer}, nil
}

// Discard returns a logger that drops everything
func Discard() Logger {
	return &moduleLogger{l: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type moduleLogger struct {
	l      *slog.Logger
	module string
}

func (m *moduleLogger) Module(name string) Logger {
	full := name
	if m.module != "" {
		full = m.module + "." + name
	}
	return &moduleLogger{l: m.l, module: full}
}

func (m *moduleLogger) With(fields ...Field) Logger {
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return &moduleLogger{l: m.l.With(args...), module: m.module}
}

func (m *moduleLogger) Enabled(level slog.Level) bool {
	return m.l.Enabled(context.Background(), level)
}

func (m *moduleLogger) Debug(msg string, fields ...Field) { m.log(slog.LevelDebug, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.log(slog.LevelInfo, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.log(slog.LevelWarn, msg, fields) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.log(slog.LevelError, msg, fields) }

func (m *moduleLogger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !m.l.Enabled(ctx, level) {
		return
	}
	if m.module != "" {
		fields = append([]Field{slog.String("module", m.module)}, fields...)
	}
	m.l.LogAttrs(ctx, level, msg, fields...)
}

// field constructors

func String(key, value string) Field          { return slog.String(key, value) }
func Int(key string, value int) Field         { return slog.Int(key, value) }
func Int64(key string, value int64) Field     { return slog.Int64(key, value) }
func Float64(key string, value float64) Field { return slog.Float64(key, value) }
func Bool(key string, value bool) Field       { return slog.Bool(key, value) }
func Duration(key string, value time.Duration) Field {
	return slog.Duration(key, value)
}
func Any(key string, value any) Field { return slog.Any(key, value) }

// Error wraps an error under the "error" key
func Error(err error) Field {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

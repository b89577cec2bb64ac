// Package logger provides the broker's process-wide structured logger.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"regbroker/internal/config"
)

// Log is the process-wide logger. Until Init runs it writes text records to
// stderr; Init replaces it with the configured handler.
var Log *slog.Logger

func init() {
	// Safe default so tests and early bootstrap code never see a nil logger.
	Log = slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// Init configures the global logger from the application's log section.
func Init(cfg config.LogConfig) {
	var lvl slog.Level
	switch cfg.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var writer io.Writer
	switch cfg.Output {
	case "stderr":
		writer = os.Stderr
	case "file":
		path := cfg.FilePath
		if path == "" {
			path = "logs/broker.log"
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			writer = os.Stdout
		} else {
			writer = &lumberjack.Logger{
				Filename:   path,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
		}
	default:
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	Log = slog.New(handler)
}

// WithContext returns a logger carrying whatever fields the caller wants
// attached to every subsequent record; ctx is accepted for call-site symmetry
// with components that thread a context through their logging calls.
func WithContext(_ context.Context, args ...any) *slog.Logger {
	return Log.With(args...)
}

// WithRequestID scopes a logger to a single RPC/registration attempt.
func WithRequestID(requestID string) *slog.Logger {
	return Log.With("request_id", requestID)
}

// WithService scopes a logger to a service or module name.
func WithService(service string) *slog.Logger {
	return Log.With("service", service)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { Log.Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { Log.Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { Log.Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { Log.Error(msg, args...) }

// Fatal logs at error level then terminates the process.
func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}

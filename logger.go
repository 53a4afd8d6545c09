package structstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with store-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext adds context values to the logger.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{
		Logger: l.Logger.With(),
	}
}

// WithSegment adds the shared segment name to the logger.
func (l *Logger) WithSegment(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", name),
	}
}

// WithOp adds an operation name to the logger.
func (l *Logger) WithOp(op string) *Logger {
	return &Logger{
		Logger: l.Logger.With("op", op),
	}
}

// LogSegmentOpen logs opening a shared segment.
func (l *Logger) LogSegmentOpen(ctx context.Context, name string, capacity int, created, reinit bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "segment open failed",
			"segment", name,
			"reinit", reinit,
			"error", err,
		)
		return
	}
	msg := "segment attached"
	if created {
		msg = "segment created"
	}
	l.InfoContext(ctx, msg,
		"segment", name,
		"capacity", capacity,
		"reinit", reinit,
	)
}

// LogSegmentClose logs closing a shared handle.
func (l *Logger) LogSegmentClose(ctx context.Context, name string, cleanup Cleanup, err error) {
	if err != nil {
		l.ErrorContext(ctx, "segment close failed",
			"segment", name,
			"cleanup", cleanup.String(),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "segment closed",
			"segment", name,
			"cleanup", cleanup.String(),
		)
	}
}

// LogRevalidate logs a revalidation of a shared handle.
func (l *Logger) LogRevalidate(ctx context.Context, name string, reopened bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "revalidate failed",
			"segment", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "revalidate completed",
			"segment", name,
			"reopened", reopened,
		)
	}
}

// LogLockFailure logs a failed lock acquisition.
func (l *Logger) LogLockFailure(ctx context.Context, op string, write bool, err error) {
	if errors.Is(err, ErrLockProtocolViolation) {
		l.WarnContext(ctx, "lock protocol violation",
			"op", op,
			"write", write,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "lock acquisition failed",
		"op", op,
		"write", write,
		"error", err,
	)
}

// LogOutOfMemory logs an allocation that did not fit the arena.
func (l *Logger) LogOutOfMemory(ctx context.Context, op string, capacity int, err error) {
	l.WarnContext(ctx, "arena exhausted",
		"op", op,
		"capacity", capacity,
		"error", err,
	)
}

// LogEncode logs a serialization.
func (l *Logger) LogEncode(ctx context.Context, bytes int, compression Compression, err error) {
	if err != nil {
		l.ErrorContext(ctx, "encode failed",
			"compression", compression.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "encode completed",
			"bytes", bytes,
			"compression", compression.String(),
		)
	}
}

// LogDecode logs a deserialization.
func (l *Logger) LogDecode(ctx context.Context, bytes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "decode failed",
			"bytes", bytes,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "decode completed",
			"bytes", bytes,
		)
	}
}

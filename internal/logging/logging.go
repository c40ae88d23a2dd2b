// Package logging is a component/intention-tagged wrapper over log/slog,
// adapted from the teacher's pkg/logger: a plain console handler fanned
// out alongside a structured file handler, so ambient logging keeps the
// teacher's texture even though the core's semantics are new.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Level is the available log level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Logger is a structured logger instance configured for jimi.
type Logger struct {
	*slog.Logger
}

// New creates a new structured logger at the given level, writing to
// stderr and to ~/.jimi/logs/jimi.log.
func New(level Level) *Logger {
	return NewWithConsoleWriter(level, os.Stderr)
}

// NewWithConsoleWriter builds a logger that writes console output to w.
func NewWithConsoleWriter(level Level, w io.Writer) *Logger {
	var slogLevel slog.Level
	switch level {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	if w == nil {
		w = os.Stderr
	}
	handler := newMultiHandler(newPlainHandler(w, slogLevel), newFileTextHandler(slogLevel))
	return &Logger{Logger: slog.New(handler)}
}

// NewDefault creates an INFO-level logger for general use.
func NewDefault() *Logger { return New(LevelInfo) }

// WithComponent tags the logger with a component name for tracing.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With("component", component)}
}

// WithSession tags the logger with a session id for request tracing.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{Logger: l.With("session", sessionID)}
}

// LogWithIntention logs at level with a console-friendly intention tag.
func (l *Logger) LogWithIntention(level slog.Level, intention Intention, msg string, args ...any) {
	kv := append([]any{"intention", string(intention)}, args...)
	l.Log(context.Background(), level, msg, kv...)
}

func (l *Logger) InfoWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelInfo, intention, msg, args...)
}

func (l *Logger) DebugWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelDebug, intention, msg, args...)
}

// Warnings and errors do not carry intentions; level already conveys emphasis.
func (l *Logger) WarnWithIntention(_ Intention, msg string, args ...any)  { l.Warn(msg, args...) }
func (l *Logger) ErrorWithIntention(_ Intention, msg string, args ...any) { l.Error(msg, args...) }

// Default is the single instance used by component loggers unless replaced.
var Default = NewDefault()

// SetGlobalLevel replaces Default with a logger at the given level.
func SetGlobalLevel(level Level) {
	Default = New(level)
}

// NewComponentLogger creates a logger scoped to one component, e.g. "soul"
// or "history".
func NewComponentLogger(component string) *Logger {
	return Default.WithComponent(component)
}

func newFileTextHandler(level slog.Level) slog.Handler {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".jimi", "logs")
	_ = os.MkdirAll(base, 0o755)
	path := filepath.Join(base, "jimi.log")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{Key: "time", Value: slog.StringValue(a.Value.Time().Format("15:04:05"))}
			}
			return a
		},
	}
	return slog.NewTextHandler(f, opts)
}

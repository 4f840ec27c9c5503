// Package logger is the structured logger of the Shadow Ranch binaries: a
// thin layer over log/slog that fixes the JSON field names, adds typed
// field helpers and copies trace ids from the context into every record.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Level is a slog level; the constants cover the ones we configure.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError

	levelOff = slog.Level(64)
)

// ParseLevel reads LOG_LEVEL. Unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// ═══════════════════════════════════════════════════════════════════════════
// FIELDS
// ═══════════════════════════════════════════════════════════════════════════

// Field is one key/value of a record.
type Field = slog.Attr

func String(key, value string) Field    { return slog.String(key, value) }
func Int(key string, value int) Field   { return slog.Int(key, value) }
func Bool(key string, value bool) Field { return slog.Bool(key, value) }
func Any(key string, value any) Field   { return slog.Any(key, value) }

// Duration renders d as text ("1.5s") rather than nanoseconds.
func Duration(key string, d time.Duration) Field { return slog.String(key, d.String()) }

func Time(key string, t time.Time) Field {
	return slog.String(key, t.UTC().Format(time.RFC3339))
}

// Err logs err under "error"; nil becomes null.
func Err(err error) Field {
	if err == nil {
		return slog.Any("error", nil)
	}
	return slog.String("error", err.Error())
}

// Domain keys shared by every component.
func Authority(a fmt.Stringer) Field { return String("authority", a.String()) }
func ChallengeID(id uint8) Field      { return Int("challenge_id", int(id)) }
func ModuleID(id uint8) Field         { return Int("module_id", int(id)) }
func Mint(address string) Field       { return String("mint", address) }
func Component(name string) Field     { return String("component", name) }
func Latency(d time.Duration) Field   { return Duration("latency", d) }

// ═══════════════════════════════════════════════════════════════════════════
// LOGGER
// ═══════════════════════════════════════════════════════════════════════════

// Options configures New.
type Options struct {
	Output    io.Writer // stdout when nil
	Level     Level
	AddCaller bool
	// Text selects slog's key=value handler instead of JSON.
	Text bool
}

// Logger writes records through a slog.Handler.
type Logger struct {
	h slog.Handler
}

// rename maps slog's default keys to the ones our log pipeline indexes:
// timestamp, message and caller (file:line).
func rename(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		return slog.String("timestamp", a.Value.Time().UTC().Format(time.RFC3339Nano))
	case slog.MessageKey:
		a.Key = "message"
	case slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok {
			return slog.String("caller", fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	return a
}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	ho := &slog.HandlerOptions{AddSource: opts.AddCaller, Level: opts.Level, ReplaceAttr: rename}
	if opts.Text {
		return &Logger{h: slog.NewTextHandler(out, ho)}
	}
	return &Logger{h: slog.NewJSONHandler(out, ho)}
}

// Default logs JSON at info to stdout.
func Default() *Logger {
	return New(Options{Level: LevelInfo, AddCaller: true})
}

// Nop discards everything.
func Nop() *Logger {
	return New(Options{Output: io.Discard, Level: levelOff})
}

// With returns a child logger that adds fields to every record.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{h: l.h.WithAttrs(fields)}
}

// WithRequestID tags records with request_id.
func (l *Logger) WithRequestID(id string) *Logger {
	return l.With(String("request_id", id))
}

// Slog exposes the logger to components that take a *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(l.h)
}

// emit builds the record itself so the caller is the function that called
// Info/Error/..., not this package.
func (l *Logger) emit(ctx context.Context, level Level, msg string, fields []Field) {
	if !l.h.Enabled(ctx, level) {
		return
	}
	var pc [1]uintptr
	runtime.Callers(3, pc[:])

	r := slog.NewRecord(time.Now(), level, msg, pc[0])
	r.AddAttrs(fields...)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(slog.String("trace_id", sc.TraceID().String()), slog.String("span_id", sc.SpanID().String()))
	}
	_ = l.h.Handle(ctx, r)
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.emit(context.Background(), LevelDebug, msg, fields)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.emit(context.Background(), LevelInfo, msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.emit(context.Background(), LevelWarn, msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.emit(context.Background(), LevelError, msg, fields)
}

// The *Context variants add trace_id and span_id of the active span.

func (l *Logger) InfoContext(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, LevelInfo, msg, fields)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, LevelWarn, msg, fields)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, LevelError, msg, fields)
}

// ═══════════════════════════════════════════════════════════════════════════
// CONTEXT
// ═══════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by WithContext, or Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

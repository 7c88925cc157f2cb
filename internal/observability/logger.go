// Package observability provides structured logging for the orchestrator.
package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Field names shared by every component, so log queries stay stable.
const (
	fieldService   = "service"
	fieldRequestID = "request_id"
	fieldUserID    = "user_id"
	fieldOperation = "operation"
	fieldComponent = "component"
)

// LogConfig holds logger configuration.
type LogConfig struct {
	Level       string
	Format      string // json or console
	Output      io.Writer
	ServiceName string
}

// Logger is a zerolog logger scoped with request, user and component fields.
// Scoping returns a new Logger and never mutates the receiver.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger builds a Logger writing JSON lines, or human readable output
// when Format is "console". Output defaults to stdout.
func NewLogger(cfg LogConfig) *Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.ServiceName != "" {
		ctx = ctx.Str(fieldService, cfg.ServiceName)
	}
	return &Logger{zl: ctx.Logger()}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) scoped(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// WithContext adds the request id carried by ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	id := RequestIDFromContext(ctx)
	if id == "" {
		return l
	}
	return l.scoped(fieldRequestID, id)
}

// WithUser tags entries with the calling user.
func (l *Logger) WithUser(userID string) *Logger { return l.scoped(fieldUserID, userID) }

// WithOperation tags entries with a named operation.
func (l *Logger) WithOperation(op string) *Logger { return l.scoped(fieldOperation, op) }

// WithComponent tags entries with the emitting component.
func (l *Logger) WithComponent(name string) *Logger { return l.scoped(fieldComponent, name) }

func (l *Logger) Debug() *LogEvent { return &LogEvent{evt: l.zl.Debug()} }
func (l *Logger) Info() *LogEvent  { return &LogEvent{evt: l.zl.Info()} }
func (l *Logger) Warn() *LogEvent  { return &LogEvent{evt: l.zl.Warn()} }
func (l *Logger) Error() *LogEvent { return &LogEvent{evt: l.zl.Error()} }

// Fatal logs and exits the process once Msg is called.
func (l *Logger) Fatal() *LogEvent { return &LogEvent{evt: l.zl.Fatal()} }

// LogEvent is a single entry under construction. Events below the configured
// level are nil inside zerolog and every method is a no-op on them.
type LogEvent struct {
	evt *zerolog.Event
}

func (e *LogEvent) Str(key, val string) *LogEvent {
	e.evt = e.evt.Str(key, val)
	return e
}

func (e *LogEvent) Strs(key string, vals []string) *LogEvent {
	e.evt = e.evt.Strs(key, vals)
	return e
}

func (e *LogEvent) Int(key string, val int) *LogEvent {
	e.evt = e.evt.Int(key, val)
	return e
}

func (e *LogEvent) Float64(key string, val float64) *LogEvent {
	e.evt = e.evt.Float64(key, val)
	return e
}

func (e *LogEvent) Bool(key string, val bool) *LogEvent {
	e.evt = e.evt.Bool(key, val)
	return e
}

func (e *LogEvent) Dur(key string, val time.Duration) *LogEvent {
	e.evt = e.evt.Dur(key, val)
	return e
}

func (e *LogEvent) Err(err error) *LogEvent {
	e.evt = e.evt.Err(err)
	return e
}

// Msg writes the entry.
func (e *LogEvent) Msg(msg string) {
	e.evt.Msg(msg)
}

// parseLevel accepts zerolog level names plus "warning". Unknown or empty
// values mean info.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

type requestIDKey struct{}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts a request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// ServiceLogger is the logging contract shared by streams, proxies, services
// and the watermill transports underneath them.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// LevelTrace sits below debug; the JSON handler prints it as "DEBUG-4".
const LevelTrace = slog.LevelDebug - 4

// New builds the process logger used by the relayflow binaries. Output is
// line-delimited JSON so that several processes can share one log sink.
func New(w io.Writer, level string) ServiceLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return NewSlogServiceLogger(slog.New(handler))
}

// ParseLevel maps LOG_LEVEL values onto slog levels. Unknown values fall back
// to info. "trace" enables debug output only; trace lines stay hidden unless
// the handler is built with LevelTrace directly.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("relayflow: slog logger cannot be nil")
	}
	return slogLogger{log: log}
}

type slogLogger struct {
	log *slog.Logger
}

func (l slogLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return l
	}
	return slogLogger{log: l.log.With(attrs(fields, nil)...)}
}

func (l slogLogger) emit(level slog.Level, msg string, err error, fields LogFields) {
	ctx := context.Background()
	if !l.log.Enabled(ctx, level) {
		return
	}
	l.log.Log(ctx, level, msg, attrs(fields, err)...)
}

func (l slogLogger) Trace(msg string, fields LogFields) { l.emit(LevelTrace, msg, nil, fields) }
func (l slogLogger) Debug(msg string, fields LogFields) { l.emit(slog.LevelDebug, msg, nil, fields) }
func (l slogLogger) Info(msg string, fields LogFields)  { l.emit(slog.LevelInfo, msg, nil, fields) }

func (l slogLogger) Error(msg string, err error, fields LogFields) {
	l.emit(slog.LevelError, msg, err, fields)
}

func attrs(fields LogFields, err error) []any {
	out := make([]any, 0, 2*len(fields)+2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	if err != nil {
		out = append(out, "error", err)
	}
	return out
}

// Nop returns a logger that discards everything.
func Nop() ServiceLogger {
	return NewWatermillServiceLogger(watermill.NopLogger{})
}

func OrNop(log ServiceLogger) ServiceLogger {
	if log == nil {
		return Nop()
	}
	return log
}

// NewWatermillServiceLogger lets callers that already hold a watermill
// LoggerAdapter hand it to relayflow components.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("relayflow: watermill logger cannot be nil")
	}
	return fromWatermill{inner: logger}
}

type fromWatermill struct {
	inner watermill.LoggerAdapter
}

func (w fromWatermill) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return w
	}
	return fromWatermill{inner: w.inner.With(watermill.LogFields(fields))}
}

func (w fromWatermill) Trace(msg string, fields LogFields) {
	w.inner.Trace(msg, watermill.LogFields(fields))
}

func (w fromWatermill) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, watermill.LogFields(fields))
}

func (w fromWatermill) Info(msg string, fields LogFields) {
	w.inner.Info(msg, watermill.LogFields(fields))
}

func (w fromWatermill) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, watermill.LogFields(fields))
}

// NewWatermillAdapter converts a ServiceLogger into a Watermill LoggerAdapter
// so the transports log through the same sink as the rest of the process.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("relayflow: ServiceLogger cannot be nil")
	}
	if w, ok := log.(fromWatermill); ok {
		return w.inner
	}
	return toWatermill{base: log}
}

type toWatermill struct {
	base ServiceLogger
}

func (s toWatermill) Error(msg string, err error, fields watermill.LogFields) {
	s.base.Error(msg, err, LogFields(fields))
}

func (s toWatermill) Info(msg string, fields watermill.LogFields) {
	s.base.Info(msg, LogFields(fields))
}

func (s toWatermill) Debug(msg string, fields watermill.LogFields) {
	s.base.Debug(msg, LogFields(fields))
}

func (s toWatermill) Trace(msg string, fields watermill.LogFields) {
	s.base.Trace(msg, LogFields(fields))
}

func (s toWatermill) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return toWatermill{base: s.base.With(LogFields(fields))}
}

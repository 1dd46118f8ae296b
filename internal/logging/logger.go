// Package logging wraps zap with the context-scoped fields the broker's
// operational packages (rate limiter, session coordinator) attach to every
// log line. The other packages (internal/room, internal/transport,
// internal/config, cmd/broker) log with plain log/slog instead.
package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

// Context keys populated by callers before logging, surfaced automatically
// by Info/Warn/Error/Fatal below.
const (
	ConnIDKey   contextKey = "conn_id"
	RoomCodeKey contextKey = "room_code"
)

// Initialize sets up the global logger. development selects a colorized
// console encoder; production selects JSON with ISO8601 timestamps.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		logger, err = cfg.Build(zap.AddCallerSkip(1))
	})
	return err
}

// L returns the global logger, falling back to a development logger if
// Initialize was never called (e.g. in tests).
func L() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

func withContext(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if cid, ok := ctx.Value(ConnIDKey).(string); ok && cid != "" {
		fields = append(fields, zap.String("conn_id", cid))
	}
	if code, ok := ctx.Value(RoomCodeKey).(string); ok && code != "" {
		fields = append(fields, zap.String("room_code", code))
	}
	return append(fields, zap.String("service", "peersignal-broker"))
}

// Info logs msg at info level with any context fields attached.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	L().Info(msg, withContext(ctx, fields)...)
}

// Warn logs msg at warn level with any context fields attached.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	L().Warn(msg, withContext(ctx, fields)...)
}

// Error logs msg at error level with any context fields attached.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	L().Error(msg, withContext(ctx, fields)...)
}

// Fatal logs msg at fatal level and then terminates the process.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	L().Fatal(msg, withContext(ctx, fields)...)
}

// WithConnID returns a child context carrying conn_id for future log calls.
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

// WithRoomCode returns a child context carrying room_code for future log calls.
func WithRoomCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, RoomCodeKey, code)
}

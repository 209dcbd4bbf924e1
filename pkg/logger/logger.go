package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the global logger
var Log *zap.Logger

// Initialize sets up the global logger with the specified log level
func Initialize(level string) error {
	var zapLevel zapcore.Level
	err := zapLevel.UnmarshalText([]byte(level))
	if err != nil {
		zapLevel = zap.InfoLevel
	}

	// UTC timestamps across every deployment region
	customTimeEncoder := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}

	config := zap.Config{
		Level:             zap.NewAtomicLevelAt(zapLevel),
		Development:       false,
		DisableCaller:     false,
		DisableStacktrace: false,
		Sampling:          nil,
		Encoding:          "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     customTimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	)
	if err != nil {
		return err
	}

	Log = logger

	return nil
}

// WithLogger attaches a scoped logger to the context
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID stores a request/event correlation id on the context. Loggers
// obtained via FromContext automatically carry it as the request_id field.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the correlation id stored by WithRequestID,
// or the empty string when none is set.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext extracts a logger from the context
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Log
	}

	baseLogger := Log
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		baseLogger = logger
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		return baseLogger.With(zap.String("request_id", requestID))
	}

	return baseLogger
}

// Sync flushes any buffered log entries
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// FromContextOr returns the logger from the context or the default logger if not found.
func FromContextOr(ctx context.Context, defaultLogger *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	if defaultLogger != nil {
		return defaultLogger
	}
	return Log
}

type contextKey int

const (
	loggerKey contextKey = iota
	requestIDKey
)

// Package logger provides structured logging for metasync
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.RWMutex
	globalLogger *zap.Logger
)

// contextKey is the type for context keys
type contextKey string

const (
	// RequestIDKey is the context key for the HTTP request ID
	RequestIDKey contextKey = "request_id"
	// JobIDKey is the context key for the sync job ID
	JobIDKey contextKey = "job_id"
	// AccountIDKey is the context key for the ad account being processed
	AccountIDKey contextKey = "account_id"
)

// Config represents logger configuration
type Config struct {
	Level       string   `yaml:"level" mapstructure:"level"`
	Development bool     `yaml:"development" mapstructure:"development"`
	Encoding    string   `yaml:"encoding" mapstructure:"encoding"` // json or console
	OutputPaths []string `yaml:"output_paths" mapstructure:"output_paths"`
}

// Init builds a logger from cfg and installs it as the global logger.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	globalLogger = l
	mu.Unlock()
	return nil
}

// New creates a zap logger from cfg without touching the global one.
func New(cfg Config) (*zap.Logger, error) {
	levelName := cfg.Level
	if levelName == "" {
		levelName = "info"
	}
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if cfg.Development && encoding == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	l, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if cfg.Development {
		l = l.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return l.With(zap.String("service", "metasync")), nil
}

// Get returns the global logger, building a default JSON logger on first use.
func Get() *zap.Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		built, err := New(Config{Level: "info", Encoding: "json"})
		if err != nil {
			built, _ = zap.NewProduction()
		}
		globalLogger = built
	}
	return globalLogger
}

// WithRequestID stores a request id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithJobID stores a job id on ctx.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, JobIDKey, id)
}

// WithAccountID stores an ad account id on ctx.
func WithAccountID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, AccountIDKey, id)
}

// FromContext decorates base with the request, job and account ids found
// on ctx. A nil base falls back to the global logger.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = Get()
	}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		base = base.With(zap.String("request_id", requestID))
	}
	if jobID, ok := ctx.Value(JobIDKey).(string); ok && jobID != "" {
		base = base.With(zap.String("job_id", jobID))
	}
	if accountID, ok := ctx.Value(AccountIDKey).(string); ok && accountID != "" {
		base = base.With(zap.String("account_id", accountID))
	}

	return base
}

// WithContext returns the global logger with context values
func WithContext(ctx context.Context) *zap.Logger {
	return FromContext(ctx, nil)
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

package util

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logMu        sync.Mutex
	globalLogger *zap.Logger
)

// InitLogger builds the process logger and replaces zap's globals.
// environment "production" selects ISO8601 timestamps and no stack traces.
func InitLogger(environment, level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableStacktrace = true
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLogLevel(level))
	if format == "json" {
		cfg.Encoding = "json"
	} else {
		cfg.Encoding = "console"
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	logMu.Lock()
	globalLogger = l
	logMu.Unlock()
	zap.ReplaceGlobals(l)
	return l, nil
}

// L returns the process logger, or a no-op logger before InitLogger runs.
func L() *zap.Logger {
	logMu.Lock()
	defer logMu.Unlock()
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// SetLogger installs l as the process logger. Tests use it with zaptest/observer loggers.
func SetLogger(l *zap.Logger) {
	logMu.Lock()
	globalLogger = l
	logMu.Unlock()
}

func Sync() {
	_ = L().Sync()
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Elapsed is a small field helper for stage timings.
func Elapsed(start time.Time) zap.Field {
	return zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond))
}

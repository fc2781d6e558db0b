// Package dlogger exposes a simple zap logger, with log levels.
//
// Logs always go to stderr: stdout is reserved for command output (ref listings, fsck findings).
package dlogger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LogLevelInfo sets the log level to info
	LogLevelInfo = "info"

	// LogLevelDebug sets the log level to debug
	LogLevelDebug = "debug"

	// LogLevelWarn only reports warnings and errors
	LogLevelWarn = "warn"

	// LogLevelNone sets logger to no logging
	LogLevelNone = "none"

	loggerName = "refmon"
)

// Option tunes the zap configuration
type Option func(*zap.Config)

// WithConsole switches to a human readable encoding, for interactive use
func WithConsole() Option {
	return func(c *zap.Config) {
		c.Encoding = "console"
		c.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		c.DisableStacktrace = true
	}
}

// GetLogger returns a zap logger with the specified level
func GetLogger(logLevel string, opts ...Option) (*zap.Logger, error) {
	if logLevel == LogLevelNone {
		return zap.NewNop(), nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	for _, apply := range opts {
		apply(&zapConfig)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named(loggerName), nil
}

// MustGetLogger returns a zap logger with the specified level or panics
func MustGetLogger(logLevel string, opts ...Option) *zap.Logger {
	l, err := GetLogger(logLevel, opts...)
	if err != nil {
		panic(err)
	}
	return l
}

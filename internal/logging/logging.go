// Package logging holds the process wide zap logger.
//
// Logs are always written to stderr so that stdout stays reserved for
// credential_process payloads and command output.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	global *zap.Logger
)

// Init builds the CLI logger and installs it as the package global.
// Repeated calls replace the previous logger.
func Init(verbose bool) *zap.Logger {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}

	Set(logger)
	return logger
}

// Set replaces the global logger, e.g. with a zaptest logger.
func Set(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = logger
}

// Get returns the global logger, a no-op logger when Init was never called.
func Get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = zap.NewNop()
	}
	return global
}

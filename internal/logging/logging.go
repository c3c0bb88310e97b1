// Package logging configures the console logger shared by the fitscube
// command-line tools.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger writing human-readable output to standard error.
// Verbosity follows the -v count convention: 0 shows warnings and errors
// only, 1 adds progress information, 2 or more adds per-plane debug detail.
func New(verbosity int) *zap.SugaredLogger {
	level := zapcore.WarnLevel
	switch {
	case verbosity == 1:
		level = zapcore.InfoLevel
	case verbosity >= 2:
		level = zapcore.DebugLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

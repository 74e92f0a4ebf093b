// Package logging builds the zap logger shared by devkit commands.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/modforge/devkit/internal/constants"
)

// New returns a production zap logger writing to stderr.
// Warn is the default level; verbose lowers it to debug and DEVKIT_LOG_LEVEL
// overrides both.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Sampling = nil

	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	if raw := strings.TrimSpace(os.Getenv(constants.EnvLogLevel)); raw != "" {
		parsed, err := zapcore.ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", constants.EnvLogLevel, err)
		}
		level = parsed
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/modforge/devkit/internal/constants"
)

func TestNew_DefaultLevelIsWarn(t *testing.T) {
	t.Setenv(constants.EnvLogLevel, "")
	l, err := New(false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled by default")
	}
	if !l.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be enabled by default")
	}
}

func TestNew_VerboseEnablesDebug(t *testing.T) {
	t.Setenv(constants.EnvLogLevel, "")
	l, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be enabled with verbose")
	}
}

func TestNew_EnvOverride(t *testing.T) {
	t.Setenv(constants.EnvLogLevel, "error")
	l, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be disabled when DEVKIT_LOG_LEVEL=error")
	}
}

func TestNew_BadEnvLevel(t *testing.T) {
	t.Setenv(constants.EnvLogLevel, "chatty")
	if _, err := New(false); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
}

package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	logger, err := New("debug")
	if err != nil {
		t.Fatalf("logger error: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected debug level to be enabled")
	}

	logger, err = New("warn")
	if err != nil {
		t.Fatalf("logger error: %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Fatalf("expected info level to be disabled at warn")
	}

	if _, err := New("loud"); err == nil {
		t.Fatalf("expected unknown level to error")
	}
}

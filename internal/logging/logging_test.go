package logging

import (
	"testing"

	"audio-transcriber/internal/config"
)

func TestNewAcceptsKnownLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "warning", "error"} {
		if _, err := New(config.LogConfig{Level: level}, "dev"); err != nil {
			t.Fatalf("level %q rejected: %v", level, err)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "verbose"}, "dev"); err == nil {
		t.Fatal("expected error for unknown level, got nil")
	}
}

func TestDiscardLoggerIsUsable(t *testing.T) {
	log := Discard()
	log.Info("dropped", "key", "value")
}

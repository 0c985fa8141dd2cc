package logging

import (
	"context"
	"errors"
	"testing"

	syncErrors "github.com/teleregnet/syncbridge/errors"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
	}{
		{"debug"}, {"info"}, {"warn"}, {"error"}, {"bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := NewLogger(Config{Level: tt.level, Format: "text"})
			if l == nil || l.Logger == nil {
				t.Fatal("NewLogger returned nil logger")
			}
		})
	}
}

func TestWithComponentAndAgency(t *testing.T) {
	l := NewLogger(Config{Level: "debug", Format: "text"})
	child := l.WithComponent("session").WithAgency("agency-fr")
	if child == nil {
		t.Fatal("child logger is nil")
	}
	// Must not panic with either error shape.
	child.LogError(context.Background(), errors.New("plain"), "plain error")
	child.LogError(context.Background(), syncErrors.NewFetchError(errors.New("down")), "sync error")
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("ENVIRONMENT", "production")

	cfg := GetConfigFromEnv()
	if cfg.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Level)
	}
	// Production forces JSON regardless of LOG_FORMAT.
	if cfg.Format != "json" {
		t.Errorf("Format = %q, want json", cfg.Format)
	}
	if cfg.AddSource {
		t.Error("AddSource should be disabled in production")
	}
}

package infrastructure

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"tollsync/internal/config"
)

func TestInitializeLoggerFileOutput(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logPath := filepath.Join(t.TempDir(), "logs", "app.log")
	cfg := config.LoggingConfig{
		Level:    "debug",
		Format:   "json",
		Output:   "file",
		FilePath: logPath,
	}

	logger, err := InitializeLogger(cfg)
	if err != nil {
		t.Fatalf("InitializeLogger returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}

	logger.Info("test entry", slog.String("key", "value"))
}

func TestInitializeLoggerOnce(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	cfg := config.LoggingConfig{Level: "info", Output: "console"}
	first, err := InitializeLogger(cfg)
	if err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	second, err := InitializeLogger(cfg)
	if err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if first != second {
		t.Error("expected the same logger instance on repeated initialization")
	}
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := GetTraceID(ctx); got != "" {
		t.Errorf("expected empty trace ID, got %q", got)
	}

	ctx = WithTraceID(ctx, "abc-123")
	if got := GetTraceID(ctx); got != "abc-123" {
		t.Errorf("expected abc-123, got %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

package main

import (
	"log/slog"
	"testing"
)

func TestLoadConfigBuildsJSONLogger(t *testing.T) {
	_, logger, err := loadConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if _, ok := logger.Handler().(*slog.JSONHandler); !ok {
		t.Fatalf("expected a JSON handler, got %T", logger.Handler())
	}
}

func TestLogLevelMapping(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for name, want := range cases {
		if got := logLevel(name); got != want {
			t.Errorf("logLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

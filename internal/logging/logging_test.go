package logging

import (
	"path/filepath"
	"testing"

	"github.com/sgoadhouse/xvcd-server/internal/config"
)

func TestNewConsoleLogger(t *testing.T) {
	log, err := New(config.LoggingConfig{Level: "debug", Format: "console", Output: "stderr"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	log.Sugar().Debugw("logger works", "k", "v")
}

func TestNewJSONFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xvcd.log")
	log, err := New(config.LoggingConfig{Level: "info", Format: "json", Output: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	log.Info("file sink works")
	if err := log.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "chatty"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if _, err := New(config.LoggingConfig{Level: "info", Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

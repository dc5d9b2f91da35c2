package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPathMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadFromPath(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL() != defaultServerURL {
		t.Fatalf("unexpected server url: %s", cfg.ServerURL())
	}
	if cfg.Tuning.IdleTimeout() != 8*time.Second {
		t.Fatalf("unexpected idle timeout: %s", cfg.Tuning.IdleTimeout())
	}
	if cfg.Tuning.ShrinkToleranceChars() != 24 {
		t.Fatalf("unexpected shrink tolerance: %d", cfg.Tuning.ShrinkToleranceChars())
	}
}

func TestLoadFromPathOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
[server]
url = "http://127.0.0.1:9999/"

[tuning]
batch_window_ms = 10
viewport_window = 5

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL() != "http://127.0.0.1:9999" {
		t.Fatalf("unexpected server url: %s", cfg.ServerURL())
	}
	if cfg.Tuning.BatchWindow() != 10*time.Millisecond {
		t.Fatalf("unexpected batch window: %s", cfg.Tuning.BatchWindow())
	}
	if cfg.Tuning.ViewportWindowSize() != 5 {
		t.Fatalf("unexpected viewport window: %d", cfg.Tuning.ViewportWindowSize())
	}
	if cfg.LogLevel() != "debug" {
		t.Fatalf("unexpected level: %s", cfg.LogLevel())
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.HTTP.Addr)
	}
	if cfg.Tracking.TransitWindow != 90*time.Second {
		t.Errorf("transit window = %v", cfg.Tracking.TransitWindow)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackd.yaml")
	body := []byte(`
http:
  addr: ":9090"
tracking:
  transit_window: 30s
  tick_interval: 500ms
  path_steps: 10
realtime:
  queue_size: 8
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRACKD_HTTP_ADDR", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":7070" {
		t.Errorf("env should win over file, got %q", cfg.HTTP.Addr)
	}
	if cfg.Tracking.TransitWindow != 30*time.Second || cfg.Tracking.TickInterval != 500*time.Millisecond {
		t.Errorf("tracking = %+v", cfg.Tracking)
	}
	if cfg.Realtime.QueueSize != 8 {
		t.Errorf("queue size = %d, want 8", cfg.Realtime.QueueSize)
	}
	if cfg.Realtime.MaxDrops != 16 {
		t.Errorf("unset field should keep default, got %d", cfg.Realtime.MaxDrops)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("tracking:\n  path_steps: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

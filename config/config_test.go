package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "./kernel.db" {
		t.Errorf("unexpected default database url: %q", cfg.Database.URL)
	}
	if cfg.Database.MaxConnections != 5 {
		t.Errorf("unexpected default max connections: %d", cfg.Database.MaxConnections)
	}
	if cfg.Plugins.CallTimeout != 30*time.Second {
		t.Errorf("unexpected default call timeout: %v", cfg.Plugins.CallTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.yaml")
	contents := []byte("plugins:\n  directory: /opt/plugins\n  auto_load: false\n")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Plugins.Directory != "/opt/plugins" {
		t.Errorf("expected directory from file to win, got %q", cfg.Plugins.Directory)
	}
	if cfg.Plugins.AutoLoad {
		t.Errorf("expected auto_load false from file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KERNEL_DATABASE__URL", "file:memdb?mode=memory")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "file:memdb?mode=memory" {
		t.Errorf("expected env override to win, got %q", cfg.Database.URL)
	}
}

func TestValidateRejectsTooManyConnections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.yaml")
	if err := os.WriteFile(path, []byte("database:\n  max_connections: 50\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for max_connections > 5")
	}
}

package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wasmforge/kernel/config"
)

func TestNewWiresEveryComponent(t *testing.T) {
	dir := t.TempDir()

	cfg := &config.Config{
		Database: config.DatabaseConfig{URL: filepath.Join(dir, "kernel.db"), MaxConnections: 1},
		Plugins: config.PluginsConfig{
			Directory: filepath.Join(dir, "plugins"),
		},
		Log: config.LogConfig{Level: "info"},
		Identity: config.IdentityConfig{
			PrivateKeyFile: filepath.Join(dir, "master.key"),
		},
	}

	rt, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { rt.Storage.Close() })

	if rt.Identity == nil || rt.Storage == nil || rt.Handle == nil || rt.Router == nil || rt.ABI == nil || rt.Plugins == nil {
		t.Fatalf("expected every component to be wired, got %+v", rt)
	}
}

func TestLoadAllWithEmptyDirectorySucceeds(t *testing.T) {
	dir := t.TempDir()
	pluginsDir := filepath.Join(dir, "plugins")
	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Database: config.DatabaseConfig{URL: filepath.Join(dir, "kernel.db"), MaxConnections: 1},
		Plugins:  config.PluginsConfig{Directory: pluginsDir},
		Log:      config.LogConfig{Level: "info"},
		Identity: config.IdentityConfig{PrivateKeyFile: filepath.Join(dir, "master.key")},
	}

	rt, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { rt.Storage.Close() })

	if err := rt.loadAll(); err != nil {
		t.Fatalf("loadAll with an empty plugin directory: %v", err)
	}
}

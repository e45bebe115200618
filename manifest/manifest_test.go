package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFullManifest(t *testing.T) {
	raw := []byte(`
[plugin]
name = "weather"
version = "1.2.0"
description = "fetches weather data"
author = "acme"

[dependencies]
requires = ["network"]
optional = ["cache"]

[metadata]
tags = ["network", "data"]
min_kernel_version = "0.5.0"
`)

	m, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Plugin.Name != "weather" {
		t.Fatalf("Name = %q, want weather", m.Plugin.Name)
	}
	if len(m.Dependencies.Requires) != 1 || m.Dependencies.Requires[0] != "network" {
		t.Fatalf("Requires = %v", m.Dependencies.Requires)
	}
	if len(m.Dependencies.Optional) != 1 || m.Dependencies.Optional[0] != "cache" {
		t.Fatalf("Optional = %v", m.Dependencies.Optional)
	}
}

func TestParseMetadataExtraPassthrough(t *testing.T) {
	raw := []byte(`
[plugin]
name = "weather"

[metadata]
tags = ["network"]
homepage = "https://example.com/weather"
rating = 5
`)

	m, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Metadata.Tags) != 1 || m.Metadata.Tags[0] != "network" {
		t.Fatalf("Tags = %v", m.Metadata.Tags)
	}
	if got := m.Metadata.Extra["homepage"]; got != "https://example.com/weather" {
		t.Fatalf("Extra[homepage] = %v, want the untyped URL", got)
	}
	if _, ok := m.Metadata.Extra["tags"]; ok {
		t.Fatalf("Extra must not duplicate the typed tags field, got %v", m.Metadata.Extra)
	}
	if _, ok := m.Metadata.Extra["rating"]; !ok {
		t.Fatalf("Extra must carry untyped numeric fields too, got %v", m.Metadata.Extra)
	}
}

func TestParseMetadataWithNoExtraFieldsLeavesExtraNil(t *testing.T) {
	raw := []byte(`
[plugin]
name = "weather"

[metadata]
tags = ["network"]
`)
	m, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Metadata.Extra != nil {
		t.Fatalf("Extra = %v, want nil when [metadata] has no untyped keys", m.Metadata.Extra)
	}
}

func TestParseMissingNameRejected(t *testing.T) {
	_, err := Parse([]byte(`[plugin]
version = "1.0.0"
`))
	if err != ErrMissingName {
		t.Fatalf("err = %v, want ErrMissingName", err)
	}
}

func TestDefaultFromStem(t *testing.T) {
	m := Default("/plugins/weather.wasm")
	if m.Plugin.Name != "weather" {
		t.Fatalf("Name = %q, want weather", m.Plugin.Name)
	}
}

func TestDiscoverSearchesAncestors(t *testing.T) {
	root := t.TempDir()
	grandparent := filepath.Join(root, "a")
	parent := filepath.Join(grandparent, "b")
	leaf := filepath.Join(parent, "c")
	if err := os.MkdirAll(leaf, 0o755); err != nil {
		t.Fatal(err)
	}

	manifestPath := filepath.Join(grandparent, fileName)
	if err := os.WriteFile(manifestPath, []byte(`[plugin]
name = "found-in-grandparent"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Discover(leaf, "plugin.wasm")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if m.Plugin.Name != "found-in-grandparent" {
		t.Fatalf("Name = %q, want found-in-grandparent", m.Plugin.Name)
	}
}

func TestDiscoverFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	m, err := Discover(dir, "standalone.wasm")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if m.Plugin.Name != "standalone" {
		t.Fatalf("Name = %q, want standalone", m.Plugin.Name)
	}
}

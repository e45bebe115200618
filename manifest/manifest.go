// Package manifest parses a plugin's manifest.toml (SPEC_FULL.md §4.5.1,
// §6) and synthesises a default when none is found.
package manifest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Manifest is the declarative metadata co-located with a plugin binary.
type Manifest struct {
	Plugin       PluginSection       `toml:"plugin"`
	Dependencies DependenciesSection `toml:"dependencies"`
	Metadata     MetadataSection     `toml:"metadata"`
}

// PluginSection holds the [plugin] table.
type PluginSection struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Description string `toml:"description"`
	Author      string `toml:"author"`
}

// DependenciesSection holds the [dependencies] table.
type DependenciesSection struct {
	Requires []string `toml:"requires"`
	Optional []string `toml:"optional"`
}

// MetadataSection holds the [metadata] table, plus any additional
// untyped fields that pass through unmodified. Extra is populated by hand
// in Parse, not by struct tags, since go-toml/v2 has nowhere to route
// unrecognized keys on a typed struct.
type MetadataSection struct {
	Tags             []string       `toml:"tags"`
	MinKernelVersion string         `toml:"min_kernel_version"`
	Extra            map[string]any `toml:"-"`
}

const fileName = "manifest.toml"

// Discover searches dir, its parent, and its grandparent (in that order)
// for a manifest.toml and returns the first one found. If none exists it
// synthesises a default manifest from stem, the plugin binary's file-stem.
func Discover(dir, stem string) (Manifest, error) {
	candidates := []string{
		dir,
		filepath.Dir(dir),
		filepath.Dir(filepath.Dir(dir)),
	}

	for _, candidate := range candidates {
		path := filepath.Join(candidate, fileName)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Manifest{}, err
		}
		return Parse(data)
	}

	return Default(stem), nil
}

// knownMetadataKeys are the [metadata] keys with typed fields on
// MetadataSection; everything else in that table passes through to Extra.
var knownMetadataKeys = map[string]bool{
	"tags":               true,
	"min_kernel_version": true,
}

// Parse decodes raw TOML bytes into a Manifest.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	if m.Plugin.Name == "" {
		return Manifest{}, ErrMissingName
	}

	var raw struct {
		Metadata map[string]any `toml:"metadata"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Manifest{}, err
	}
	extra := make(map[string]any, len(raw.Metadata))
	for k, v := range raw.Metadata {
		if knownMetadataKeys[k] {
			continue
		}
		extra[k] = v
	}
	if len(extra) > 0 {
		m.Metadata.Extra = extra
	}

	return m, nil
}

// Default synthesises a manifest for a plugin binary with no manifest.toml
// on disk, deriving its name from the file-stem (the binary's base name
// with its extension removed).
func Default(stem string) Manifest {
	name := strings.TrimSuffix(filepath.Base(stem), filepath.Ext(stem))
	return Manifest{
		Plugin: PluginSection{
			Name: name,
		},
	}
}

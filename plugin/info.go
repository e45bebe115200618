// Package plugin implements the lifecycle manager (SPEC_FULL.md §4.5):
// discovery, manifest-driven dependency resolution, sandbox instantiation,
// function dispatch, and unload.
package plugin

import (
	"time"

	"github.com/wasmforge/kernel/manifest"
)

// State is a lifecycle-manager instance's position in the state machine
// described in SPEC_FULL.md §4.5.6.
type State int

const (
	Discovered State = iota
	Loading
	Loaded
	Unloading
	Unloaded
	Error
)

func (s State) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Unloading:
		return "unloading"
	case Unloaded:
		return "unloaded"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Info is the runtime descriptor for a discovered plugin: manifest fields
// plus file metadata. It is mutated only by the lifecycle manager when
// marking loaded/unloaded, and is discarded wholesale on rescan.
type Info struct {
	Name         string
	Path         string
	FileSize     int64
	ModifiedTime time.Time
	Loaded       bool

	Version          string
	Description      string
	Author           string
	Requires         []string
	Optional         []string
	Tags             []string
	MinKernelVersion string

	State State
}

func infoFromManifest(path string, size int64, modTime time.Time, m manifest.Manifest) Info {
	return Info{
		Name:             m.Plugin.Name,
		Path:             path,
		FileSize:         size,
		ModifiedTime:     modTime,
		Version:          m.Plugin.Version,
		Description:      m.Plugin.Description,
		Author:           m.Plugin.Author,
		Requires:         m.Dependencies.Requires,
		Optional:         m.Dependencies.Optional,
		Tags:             m.Metadata.Tags,
		MinKernelVersion: m.Metadata.MinKernelVersion,
		State:            Discovered,
	}
}

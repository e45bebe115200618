package manifest

import "errors"

// ErrMissingName is returned when a manifest.toml has no [plugin] name field.
var ErrMissingName = errors.New("manifest: missing required plugin name")

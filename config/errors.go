package config

import "errors"

// ErrConfig is the sentinel wrapped by every configuration parsing or
// validation failure.
var ErrConfig = errors.New("configuration error")

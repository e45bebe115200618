package plugin

import "errors"

var (
	// ErrNotFound is returned when addressing a plugin with no loaded
	// instance.
	ErrNotFound = errors.New("plugin: not found")
	// ErrCircularDependency is returned by Resolve when the dependency
	// graph contains a cycle reachable from the requested targets.
	ErrCircularDependency = errors.New("plugin: circular-dependency")
	// ErrInvalidState is returned when an operation is attempted against
	// an instance in the wrong lifecycle state.
	ErrInvalidState = errors.New("plugin: invalid-state")
)

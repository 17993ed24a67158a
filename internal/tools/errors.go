package tools

import "errors"

var (
	// ErrDuplicateTool is returned when registering a name that already exists.
	ErrDuplicateTool = errors.New("duplicate tool")

	// ErrToolNotFound is returned when resolving an unknown tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrRegistryFrozen is returned when registering after Freeze.
	ErrRegistryFrozen = errors.New("tool registry is frozen")

	// ErrInvalidArguments wraps schema validation failures.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrUnknownEncoder is returned when a mapping names an encoder that
	// does not exist.
	ErrUnknownEncoder = errors.New("bridge: unknown encoder")

	// ErrInvalidMapping is returned when a mapping entry is incomplete.
	ErrInvalidMapping = errors.New("bridge: invalid mapping")

	// ErrMissingDependency is returned when a required collaborator is nil.
	ErrMissingDependency = errors.New("bridge: missing dependency")
)

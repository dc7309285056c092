package cycle

import "errors"

var (
	// ErrInvalidParameter rejects a malformed start request before any entry is created.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrTargetUnavailable fails a single target's start when its current value cannot be read.
	ErrTargetUnavailable = errors.New("target unavailable")

	// ErrTargetNotFound is returned by an apply call for a target that no longer exists.
	// The scheduler drops such targets from the registry.
	ErrTargetNotFound = errors.New("target not found")

	// ErrNoCurrentValue means the target exists but reports no value (e.g. the light is off).
	ErrNoCurrentValue = errors.New("target has no current value")
)

// IsNotFound reports whether err means the target is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTargetNotFound)
}

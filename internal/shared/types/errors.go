package types

import "errors"

// Sentinel errors shared across components. Callers match them with
// errors.Is after unwrapping.
var (
	// ErrConfigurationMissing is returned when the install or archive root
	// is unset; no filesystem mutation happens before this check.
	ErrConfigurationMissing = errors.New("install root and archive root must be configured")

	// ErrLockUnavailable is returned when the registry lock cannot be
	// acquired within the configured wait bound.
	ErrLockUnavailable = errors.New("registry lock unavailable")

	// ErrNoExecutable is returned when discovery finds no executable in a
	// freshly populated install directory.
	ErrNoExecutable = errors.New("no executable found")

	// ErrUnsupportedFormat is returned for files that match no known
	// archive format.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
)

// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import "errors"

// Sentinel errors shared by the service and its store implementations.
var (
	// ErrStorage wraps every persistence-layer fault. Callers may retry.
	ErrStorage = errors.New("recovery storage error")
	// ErrTokenNotFound is returned by TokenStore lookups that match nothing.
	ErrTokenNotFound = errors.New("recovery token not found")
	// ErrAccountNotFound is returned by AccountDirectory.Resolve.
	ErrAccountNotFound = errors.New("account not found")
	// ErrLockTimeout is returned by a Locker that gave up acquiring.
	ErrLockTimeout = errors.New("lock acquisition timed out")
)

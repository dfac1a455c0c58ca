package challenge

import "errors"

var (
	// ErrLockConflict is returned when another live challenge already holds
	// the lock key. Recoverable: the caller retries after the holder resolves.
	ErrLockConflict = errors.New("lock conflict")

	// ErrInvalidTransition is returned when a command targets a challenge in
	// the wrong state. Never retried automatically.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNotFound is returned for an unknown challenge id.
	ErrNotFound = errors.New("challenge not found")

	// ErrStaleWrite is returned when a conditional update matched no row even
	// though the challenge exists; the state moved underneath the caller.
	ErrStaleWrite = errors.New("stale write")
)

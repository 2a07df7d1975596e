package merge

import "errors"

// Sentinel error kinds for the merge engine.
var (
	// ErrPersistenceFailure marks a snapshot write that did not complete.
	// The in-memory store is unaffected and stays dirty until a later write
	// succeeds.
	ErrPersistenceFailure = errors.New("snapshot persistence failed")
	ErrClosed             = errors.New("merge engine closed")
)

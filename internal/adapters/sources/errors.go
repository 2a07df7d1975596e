package sources

import "errors"

// Sentinel kinds for source errors.
var (
	// ErrTransientFetch marks a fetch that failed after retries. Callers log
	// it and try again next cycle.
	ErrTransientFetch = errors.New("transient fetch failure")
	// ErrPermanentFetch marks a response that retrying cannot fix.
	ErrPermanentFetch = errors.New("permanent fetch failure")
	// ErrUnknownSource is returned for an unregistered source id.
	ErrUnknownSource = errors.New("unknown source")
	// ErrDuplicateSource is returned when a source id is registered twice.
	ErrDuplicateSource = errors.New("duplicate source")
	// ErrUnknownKind is returned for a source kind Build does not know.
	ErrUnknownKind = errors.New("unknown source kind")
	// ErrUnrecognized is returned when no parser understands a payload.
	ErrUnrecognized = errors.New("unrecognized payload")
)

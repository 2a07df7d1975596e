package snapshot

import "errors"

// Sentinel kinds for snapshot loading.
var (
	ErrNoSnapshot         = errors.New("no snapshot on disk")
	ErrCorruptSnapshot    = errors.New("corrupt snapshot")
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)

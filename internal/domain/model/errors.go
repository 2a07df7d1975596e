package model

import "errors"

// Sentinel error kinds for this package.
var (
	ErrMalformedDocument = errors.New("malformed document")
)

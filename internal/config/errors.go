package config

import "errors"

// ErrLoadConfig wraps read and decode failures of the file or the
// environment. ErrInvalidConfig wraps values that fail validation; both are
// fatal at startup.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrLoadConfig    = errors.New("cannot load configuration")
)

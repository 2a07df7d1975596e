package repository

import "errors"

// Sentinel kinds for ranking errors.
var (
	ErrNotFound     = errors.New("race not ranked")
	ErrInvalidLimit = errors.New("invalid ranking limit")
	ErrInvalidSort  = errors.New("invalid report sort")
)

package alert

import "errors"

// Sentinel error kinds for alert evaluation.
var (
	ErrPersistenceFailure = errors.New("alert state persistence failed")
	ErrNotifyFailed       = errors.New("alert notification failed")
)

package service

import (
	"errors"
	"fmt"

	"github.com/okian/paddock/internal/domain/types"
)

// Sentinel kinds for service errors.
var (
	ErrNotStarted   = fmt.Errorf("service not started: %w", types.ErrUnavailable)
	ErrRaceNotFound = fmt.Errorf("race %w", types.ErrNotFound)
	ErrNoJournal    = fmt.Errorf("observation journal disabled: %w", types.ErrUnavailable)
	ErrStaleScore   = errors.New("record kept moving while scoring")
)

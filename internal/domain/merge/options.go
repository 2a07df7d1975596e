package merge

import (
	"time"

	"github.com/okian/paddock/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithPersister sets where snapshots are written and restored from.
func WithPersister(p Persister) Option {
	return func(e *Engine) {
		e.persister = p
	}
}

// WithObservationSink sets where every field candidate is journaled.
func WithObservationSink(s ObservationSink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithSnapshotEvery triggers a snapshot after n applied merges.
// Values <= 0 disable the count trigger.
func WithSnapshotEvery(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.snapshotEvery = int64(n)
		}
	}
}

// WithSnapshotInterval triggers a snapshot every d while the store is dirty.
// Values <= 0 disable the timer.
func WithSnapshotInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.snapshotInterval = d
		}
	}
}

// WithClock overrides the wall clock used for LastMergedAt and the day.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.clock = now
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

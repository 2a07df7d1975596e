package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/normalize"
	"github.com/okian/paddock/pkg/logger"
	"github.com/okian/paddock/pkg/metrics"
)

// Restore installs the latest valid snapshot. Missing, unreadable or stale
// snapshots leave the engine empty; they are logged and never fatal.
func (e *Engine) Restore(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	day, races, err := e.persister.Load(ctx)
	if err != nil {
		e.log.Warn(ctx, "starting with empty store", logger.Error(err))
		metrics.UpdateSnapshotRestored(0)
		return nil
	}
	today := normalize.Day(e.clock())
	if day != today {
		e.log.Warn(ctx, "ignoring snapshot from another day",
			logger.String("snapshot_day", day), logger.String("today", today))
		metrics.UpdateSnapshotRestored(0)
		return nil
	}

	e.mu.Lock()
	e.races = make(map[string]*model.RaceRecord, len(races))
	for key, rec := range races {
		r := rec
		if r.RaceKey == "" {
			r.RaceKey = key
		}
		e.races[key] = &r
	}
	e.day = day
	n := len(e.races)
	e.mu.Unlock()

	metrics.UpdateSnapshotRestored(n)
	metrics.UpdateRacesTracked(n)
	e.log.Info(ctx, "snapshot restored", logger.Int("races", n), logger.String("day", day))
	return nil
}

// Start runs the snapshot loop until ctx is done or Close is called.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.started.Store(true)
		go e.loop(ctx)
	})
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)

	var tick <-chan time.Time
	if e.snapshotInterval > 0 {
		t := time.NewTicker(e.snapshotInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-e.poke:
			e.persistIfDirty(ctx)
		case <-tick:
			e.persistIfDirty(ctx)
		}
	}
}

func (e *Engine) markDirty() {
	n := e.dirty.Add(1)
	if e.snapshotEvery > 0 && n >= e.snapshotEvery {
		select {
		case e.poke <- struct{}{}:
		default:
		}
	}
}

// Dirty returns the number of applied merges not yet persisted.
func (e *Engine) Dirty() int64 {
	return e.dirty.Load()
}

func (e *Engine) persistIfDirty(ctx context.Context) {
	if e.dirty.Load() == 0 {
		return
	}
	if err := e.persist(ctx); err != nil {
		e.log.Error(ctx, "snapshot write failed, will retry", logger.Error(err))
	}
}

// persist writes the whole store. Only merges captured by this write are
// cleared from the dirty counter.
func (e *Engine) persist(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	pending := e.dirty.Load()
	e.mu.RLock()
	day := e.day
	races := make(map[string]model.RaceRecord, len(e.races))
	for key, rec := range e.races {
		races[key] = rec.Clone()
	}
	e.mu.RUnlock()

	start := time.Now()
	if err := e.persister.Save(ctx, day, races); err != nil {
		metrics.RecordSnapshotFailure()
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	e.dirty.Add(-pending)
	metrics.RecordSnapshotWrite(float64(time.Since(start).Microseconds()) / 1000)
	e.log.Debug(ctx, "snapshot written", logger.Int("races", len(races)), logger.String("day", day))
	return nil
}

// Flush forces a snapshot write.
func (e *Engine) Flush(ctx context.Context) error {
	return e.persist(ctx)
}

// Close stops the snapshot loop and writes a final snapshot.
func (e *Engine) Close(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.closed.Store(true)
		close(e.stop)
	})
	if e.started.Load() {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.Flush(ctx)
}

// Rotate clears the store for a new racing day and drops the journal of the
// previous one.
func (e *Engine) Rotate(ctx context.Context, day time.Time) error {
	next := normalize.Day(day)

	e.mu.Lock()
	prev := e.day
	e.races = make(map[string]*model.RaceRecord)
	e.day = next
	e.mu.Unlock()
	// The empty store is pending until written, so a failed write is retried.
	e.dirty.Store(1)
	metrics.UpdateRacesTracked(0)

	e.log.Info(ctx, "store rotated", logger.String("from", prev), logger.String("to", next))
	if e.sink != nil {
		if err := e.sink.Rotate(ctx, next); err != nil {
			e.log.Warn(ctx, "failed to rotate journal", logger.Error(err))
		}
	}
	return e.persist(ctx)
}

// Package merge reconciles partial, conflicting race documents into one
// canonical RaceRecord per race. The Engine is the only writer of records;
// every read hands out a deep copy.
package merge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/normalize"
	"github.com/okian/paddock/pkg/logger"
	"github.com/okian/paddock/pkg/metrics"
)

// Status describes what an Ingest call did to the store.
type Status string

const (
	StatusCreated   Status = "created"
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
	StatusRejected  Status = "rejected"
)

// Outcome reports the effect of one document.
type Outcome struct {
	RaceKey   string   `json:"race_key"`
	Status    Status   `json:"status"`
	Applied   []string `json:"applied,omitempty"`
	Discarded []string `json:"discarded,omitempty"`
	Revision  uint64   `json:"revision"`
}

// Changed reports whether the record moved to a new revision.
func (o Outcome) Changed() bool {
	return o.Status == StatusCreated || o.Status == StatusUpdated
}

// Persister stores and restores whole-store snapshots.
type Persister interface {
	Save(ctx context.Context, day string, races map[string]model.RaceRecord) error
	Load(ctx context.Context) (day string, races map[string]model.RaceRecord, err error)
}

// ObservationSink receives every field candidate the engine evaluates.
type ObservationSink interface {
	Record(ctx context.Context, obs []model.Observation) error
	Rotate(ctx context.Context, day string) error
}

// Engine is the merge/cache layer.
type Engine struct {
	mu    sync.RWMutex
	races map[string]*model.RaceRecord
	day   string

	persister Persister
	sink      ObservationSink
	log       logger.Logger
	clock     func() time.Time

	snapshotEvery    int64
	snapshotInterval time.Duration
	dirty            atomic.Int64
	saveMu           sync.Mutex

	poke      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	closed    atomic.Bool
}

// NewEngine creates an empty engine. Call Restore to load the last snapshot
// and Start to run the background snapshot loop.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		races:            make(map[string]*model.RaceRecord),
		log:              logger.Named("merge"),
		clock:            time.Now,
		snapshotEvery:    25,
		snapshotInterval: 30 * time.Second,
		poke:             make(chan struct{}, 1),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.day = normalize.Day(e.clock())
	return e
}

// Ingest merges one document. Malformed documents are rejected without
// touching the store, the journal or the counters.
func (e *Engine) Ingest(ctx context.Context, doc model.RawDocument) (Outcome, error) {
	if err := doc.Validate(); err != nil {
		metrics.RecordDocumentRejected()
		return Outcome{RaceKey: doc.RaceKey, Status: StatusRejected}, fmt.Errorf("ingest %s: %w", doc.SourceID, err)
	}
	if e.closed.Load() {
		return Outcome{RaceKey: doc.RaceKey, Status: StatusRejected}, ErrClosed
	}
	start := time.Now()

	e.mu.Lock()
	rec, exists := e.races[doc.RaceKey]
	if !exists {
		rec = &model.RaceRecord{RaceKey: doc.RaceKey, Fields: make(map[string]model.FieldConfidence)}
	}
	m := newMerger(rec, doc)
	m.run()

	out := Outcome{RaceKey: doc.RaceKey, Applied: m.applied, Discarded: m.discarded, Status: StatusUnchanged}
	if !exists || m.changed() {
		rec.Revision++
		rec.LastMergedAt = e.clock()
		addSource(rec, doc.SourceID)
		out.Status = StatusUpdated
		if !exists {
			e.races[doc.RaceKey] = rec
			out.Status = StatusCreated
		}
	}
	out.Revision = rec.Revision
	tracked := len(e.races)
	e.mu.Unlock()

	e.journal(ctx, m.observations)
	if out.Changed() {
		e.markDirty()
	}

	metrics.RecordDocumentIngested(string(out.Status))
	metrics.RecordFieldsMerged(len(out.Applied), len(out.Discarded))
	metrics.UpdateRacesTracked(tracked)
	metrics.RecordMergeLatency(float64(time.Since(start).Microseconds()) / 1000)

	e.log.Debug(ctx, "document merged",
		logger.String("race_key", out.RaceKey),
		logger.String("source", doc.SourceID),
		logger.String("status", string(out.Status)),
		logger.Int("applied", len(out.Applied)),
		logger.Int("discarded", len(out.Discarded)),
		logger.Uint64("revision", out.Revision))
	return out, nil
}

func (e *Engine) journal(ctx context.Context, obs []model.Observation) {
	for _, o := range obs {
		e.log.Debug(ctx, "observation",
			logger.String("race_key", o.RaceKey),
			logger.String("runner", o.Runner),
			logger.String("field", o.Field),
			logger.String("value", o.Value),
			logger.String("tier", o.Tier.String()),
			logger.Bool("applied", o.Applied))
	}
	if e.sink == nil || len(obs) == 0 {
		return
	}
	if err := e.sink.Record(ctx, obs); err != nil {
		metrics.RecordErrorByComponent("merge", "journal")
		e.log.Warn(ctx, "failed to journal observations", logger.Error(err), logger.Int("count", len(obs)))
	}
}

func addSource(rec *model.RaceRecord, source string) {
	if source == "" {
		return
	}
	i := sort.SearchStrings(rec.Sources, source)
	if i < len(rec.Sources) && rec.Sources[i] == source {
		return
	}
	rec.Sources = append(rec.Sources, "")
	copy(rec.Sources[i+1:], rec.Sources[i:])
	rec.Sources[i] = source
}

// Get returns a copy of the record for key.
func (e *Engine) Get(key string) (model.RaceRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.races[key]
	if !ok {
		return model.RaceRecord{}, false
	}
	return rec.Clone(), true
}

// Revision returns the current revision of key, or 0 if unknown.
func (e *Engine) Revision(key string) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if rec, ok := e.races[key]; ok {
		return rec.Revision
	}
	return 0
}

// Records returns copies of all records ordered by race key.
func (e *Engine) Records() []model.RaceRecord {
	e.mu.RLock()
	out := make([]model.RaceRecord, 0, len(e.races))
	for _, rec := range e.races {
		out = append(out, rec.Clone())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RaceKey < out[j].RaceKey })
	return out
}

// Len returns the number of tracked races.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.races)
}

// Day returns the racing day the store currently belongs to.
func (e *Engine) Day() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.day
}

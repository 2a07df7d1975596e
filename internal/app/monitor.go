package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/paddock/internal/adapters/sources"
	"github.com/okian/paddock/internal/domain/alert"
	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/normalize"
	"github.com/okian/paddock/pkg/logger"
	"github.com/okian/paddock/pkg/metrics"
)

// CycleReport summarises one monitor cycle.
type CycleReport struct {
	Started   time.Time         `json:"started"`
	Sources   int               `json:"sources"`
	Documents int               `json:"documents"`
	Changed   int               `json:"changed"`
	Alerts    int               `json:"alerts"`
	Decisions []alert.Decision  `json:"decisions,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Monitor is the mobile mode: fetch every source, merge, score, alert,
// sleep, repeat.
type Monitor struct {
	registry *sources.Registry
	pipeline *Pipeline
	alerts   *alert.Engine

	interval    time.Duration
	concurrency int
	clock       func() time.Time
	logger      logger.Logger

	mu     sync.Mutex
	cycles int
}

// NewMonitor creates a monitor. The default interval is 15 minutes.
func NewMonitor(reg *sources.Registry, pipeline *Pipeline, alerts *alert.Engine, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		registry:    reg,
		pipeline:    pipeline,
		alerts:      alerts,
		interval:    900 * time.Second,
		concurrency: 4,
		clock:       time.Now,
		logger:      logger.Named("monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open restores the snapshot and alert state and starts the snapshot loop.
func (m *Monitor) Open(ctx context.Context) error {
	if err := m.pipeline.Merge().Restore(ctx); err != nil {
		return fmt.Errorf("restore races: %w", err)
	}
	if err := m.alerts.Restore(ctx); err != nil {
		return fmt.Errorf("restore alerts: %w", err)
	}
	m.pipeline.Merge().Start(ctx)
	return nil
}

// Run runs a cycle immediately and then once per interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		report, err := m.Cycle(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			m.logger.Error(ctx, "cycle failed", logger.Error(err))
		default:
			m.logger.Info(ctx, "cycle complete",
				logger.Int("documents", report.Documents),
				logger.Int("changed", report.Changed),
				logger.Int("alerts", report.Alerts),
				logger.Int("source_errors", len(report.Errors)))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Cycles returns how many cycles have completed.
func (m *Monitor) Cycles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles
}

type fetched struct {
	source string
	docs   []model.RawDocument
	err    error
}

// Cycle runs one fetch, merge, score and alert pass. Alerts are evaluated
// only after every document of the cycle has been merged. A cancelled
// context before the merge phase leaves the store untouched.
func (m *Monitor) Cycle(ctx context.Context) (CycleReport, error) {
	start := m.clock()
	report := CycleReport{Started: start, Errors: map[string]string{}}
	result := "ok"
	defer func() {
		metrics.RecordMonitorCycle(result, float64(time.Since(start).Microseconds())/1000)
	}()

	m.rotateIfNewDay(ctx, start)

	results := m.fetchAll(ctx)
	report.Sources = len(results)
	if err := ctx.Err(); err != nil {
		result = "aborted"
		return report, err
	}

	var docs []model.RawDocument
	for _, r := range results {
		if r.err != nil {
			report.Errors[r.source] = r.err.Error()
			continue
		}
		docs = append(docs, r.docs...)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].SourceID != docs[j].SourceID {
			return docs[i].SourceID < docs[j].SourceID
		}
		return docs[i].RaceKey < docs[j].RaceKey
	})
	report.Documents = len(docs)

	changed := make(map[string]struct{})
	merger := m.pipeline.Merge()
	for _, doc := range docs {
		out, err := merger.Ingest(ctx, doc)
		if err != nil {
			m.logger.Warn(ctx, "document rejected",
				logger.String("source", doc.SourceID),
				logger.String("race_key", doc.RaceKey),
				logger.Error(err))
			continue
		}
		if out.Changed() {
			changed[out.RaceKey] = struct{}{}
		}
	}
	report.Changed = len(changed)

	keys := make([]string, 0, len(changed))
	for k := range changed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			result = "aborted"
			return report, err
		}
		scored, err := m.pipeline.Rescore(ctx, key)
		if err != nil {
			m.logger.Warn(ctx, "scoring failed", logger.String("race_key", key), logger.Error(err))
			continue
		}
		d, err := m.alerts.Evaluate(ctx, scored.Result, m.clock())
		if err != nil {
			m.logger.Error(ctx, "alert evaluation failed", logger.String("race_key", key), logger.Error(err))
		}
		report.Decisions = append(report.Decisions, d)
		if d.Alerted {
			report.Alerts++
		}
	}

	m.mu.Lock()
	m.cycles++
	m.mu.Unlock()
	return report, nil
}

// fetchAll fetches every source with bounded fan-out. Per-source errors are
// kept in the results; they never cancel the other fetches.
func (m *Monitor) fetchAll(ctx context.Context) []fetched {
	adapters := m.registry.Adapters()
	results := make([]fetched, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, a := range adapters {
		g.Go(func() error {
			docs, err := a.Fetch(gctx)
			results[i] = fetched{source: a.ID(), docs: docs, err: err}
			if err != nil {
				m.logger.Warn(gctx, "source fetch failed",
					logger.String("source", a.ID()), logger.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// rotateIfNewDay clears races and alert state at the day boundary. Both
// stores are cleared in memory even when their files cannot be written;
// the write is retried by the next snapshot or alert save.
func (m *Monitor) rotateIfNewDay(ctx context.Context, now time.Time) {
	merger := m.pipeline.Merge()
	if normalize.Day(now) == merger.Day() {
		return
	}
	if err := merger.Rotate(ctx, now); err != nil {
		m.logger.Error(ctx, "race snapshot not written after rotation, will retry", logger.Error(err))
	}
	if err := m.alerts.Rotate(ctx); err != nil {
		m.logger.Error(ctx, "alert state not written after rotation, will retry", logger.Error(err))
	}
}

// Close writes the final snapshot and alert state.
func (m *Monitor) Close(ctx context.Context) error {
	var errs []error
	if err := m.pipeline.Merge().Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final snapshot: %w", err))
	}
	if err := m.alerts.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("alert state: %w", err))
	}
	return errors.Join(errs...)
}

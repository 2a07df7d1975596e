// Package service wires the domain engines into the two running modes: the
// desktop Service, which ranks races submitted through the API and paste
// inbox, and the mobile Monitor, which polls sources and raises alerts.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/paddock/internal/adapters/mq/queue"
	"github.com/okian/paddock/internal/adapters/mq/worker"
	"github.com/okian/paddock/internal/adapters/repository"
	"github.com/okian/paddock/internal/adapters/sources"
	"github.com/okian/paddock/internal/domain/dedupe"
	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/normalize"
	"github.com/okian/paddock/internal/domain/types"
	"github.com/okian/paddock/pkg/logger"
	"github.com/okian/paddock/pkg/metrics"
)

// PasteSource is the source id given to pasted documents without a name.
const PasteSource = "paste"

// Service is the desktop mode. Submissions are validated, de-duplicated
// and queued; a single worker owns every merge.
type Service struct {
	mu sync.RWMutex

	pipeline *Pipeline
	ranking  *repository.TreapStore
	deduper  dedupe.Deduper
	queue    *queue.InMemoryQueue
	pool     *worker.Pool
	journal  ObservationReader

	queueSize   int
	dedupeSize  int
	rankingOpts []repository.Option
	pasteTier   model.Tier
	loc         *time.Location
	clock       func() time.Time
	rotateEvery time.Duration

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service around pipeline.
func New(pipeline *Pipeline, opts ...Option) *Service {
	s := &Service{
		pipeline:    pipeline,
		queueSize:   1024,
		dedupeSize:  50000,
		pasteTier:   model.TierKnownOdds,
		loc:         time.Local,
		clock:       time.Now,
		rotateEvery: time.Minute,
		logger:      logger.Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start restores the last snapshot, republishes its races to the ranking
// and starts the merge worker.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting desktop service")

	m := s.pipeline.Merge()
	if err := m.Restore(ctx); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	m.Start(ctx)

	s.ranking = repository.NewTreapStore(ctx, s.rankingOpts...)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))

	for _, rec := range m.Records() {
		scored, err := s.pipeline.Rescore(ctx, rec.RaceKey)
		if err != nil {
			s.logger.Warn(ctx, "failed to rescore restored race",
				logger.String("race_key", rec.RaceKey), logger.Error(err))
			continue
		}
		s.publish(ctx, scored)
	}
	s.ranking.PublishSnapshot()

	// One worker: the merge engine has a single writer.
	s.pool = worker.NewPool(1, s.queue, s)
	s.pool.Start(ctx)

	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.rotateLoop(ctx)

	s.started = true
	s.logger.Info(ctx, "desktop service started",
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Int("races_restored", m.Len()))
	return nil
}

// Stop drains the queue, writes the final snapshot and stops background work.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping desktop service")

	close(s.stopCh)
	s.wg.Wait()

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.pipeline.Merge().Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final snapshot: %w", err))
	}
	if err := s.ranking.Close(); err != nil {
		errs = append(errs, err)
	}

	s.started = false
	s.logger.Info(ctx, "desktop service stopped")
	return errors.Join(errs...)
}

// Submit validates doc, drops duplicates and queues it for merging.
// Malformed documents never reach the fingerprint cache.
func (s *Service) Submit(ctx context.Context, doc model.RawDocument) (types.SubmitResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := types.SubmitResult{RaceKey: doc.RaceKey}
	if !s.started {
		return res, ErrNotStarted
	}
	if err := doc.Validate(); err != nil {
		metrics.RecordDocumentRejected()
		res.Status = types.StatusRejected
		return res, err
	}

	fp := doc.Fingerprint()
	if s.deduper.SeenAndRecord(ctx, fp) {
		metrics.RecordDocumentDuplicate()
		res.Status = types.StatusDuplicate
		res.Duplicate = true
		return res, nil
	}

	res.ID = uuid.NewString()
	job := queue.Job{ID: res.ID, Fingerprint: fp, Document: doc, AcceptedAt: s.clock()}
	if !s.queue.Enqueue(ctx, job) {
		s.deduper.Unrecord(ctx, fp)
		res.ID = ""
		res.Status = types.StatusRejected
		if s.queue.IsClosed() {
			return res, queue.ErrClosed
		}
		return res, queue.ErrFull
	}

	res.Status = types.StatusAccepted
	s.logger.Debug(ctx, "document queued",
		logger.String("id", res.ID),
		logger.String("race_key", doc.RaceKey),
		logger.String("source", doc.SourceID))
	return res, nil
}

// SubmitPayload parses a pasted or dropped payload and submits every race
// it contains. The format is detected from the content.
func (s *Service) SubmitPayload(ctx context.Context, sourceID string, data []byte) ([]types.SubmitResult, error) {
	if sourceID == "" {
		sourceID = PasteSource
	}
	now := s.clock()
	docs, err := sources.Detect(data).Parse(data, sources.Meta{
		SourceID:   sourceID,
		Tier:       s.pasteTier,
		Day:        now.In(s.loc),
		CapturedAt: now,
		Location:   s.loc,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no races found", sources.ErrUnrecognized)
	}

	out := make([]types.SubmitResult, 0, len(docs))
	for _, doc := range docs {
		res, err := s.Submit(ctx, doc)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Process implements worker.Processor. It runs on the single merge worker.
func (s *Service) Process(ctx context.Context, j queue.Job) error { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	out, scored, err := s.pipeline.Process(ctx, j.Document)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}
	s.logger.Debug(ctx, "job merged",
		logger.String("job_id", j.ID),
		logger.String("race_key", out.RaceKey),
		logger.String("status", string(out.Status)),
		logger.Uint64("revision", out.Revision))
	if scored != nil {
		s.publish(ctx, scored)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, scored *Scored) {
	ok, err := s.ranking.Upsert(ctx, repository.SummaryOf(scored.Record), scored.Result)
	if err != nil {
		s.logger.Error(ctx, "ranking update failed",
			logger.String("race_key", scored.Result.RaceKey), logger.Error(err))
		return
	}
	if ok {
		metrics.RecordScorePublished()
	}
}

// Report returns the filtered desktop report.
func (s *Service) Report(ctx context.Context, f repository.Filter) ([]types.Row, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	entries, err := s.ranking.Report(ctx, f)
	if err != nil {
		return nil, err
	}
	rows := make([]types.Row, len(entries))
	for i, e := range entries {
		rows[i] = RowOf(e)
	}
	return rows, nil
}

// Race returns the merged record and latest score of one race.
func (s *Service) Race(ctx context.Context, key string) (types.RaceDetail, error) {
	if err := s.ready(); err != nil {
		return types.RaceDetail{}, err
	}
	rec, ok := s.pipeline.Merge().Get(key)
	if !ok {
		return types.RaceDetail{}, fmt.Errorf("%w: %s", ErrRaceNotFound, key)
	}
	detail := types.RaceDetail{Record: rec}
	if e, err := s.ranking.Rank(ctx, key); err == nil {
		res := e.Result
		detail.Rank = e.Rank
		detail.Score = &res
	}
	return detail, nil
}

// Observations returns the journal entries of a race, oldest first.
func (s *Service) Observations(ctx context.Context, key string, limit int) ([]model.Observation, error) {
	if s.journal == nil {
		return nil, ErrNoJournal
	}
	return s.journal.Observations(ctx, key, limit)
}

// Rotate starts a new racing day: the store, ranking and fingerprint cache
// are cleared.
func (s *Service) Rotate(ctx context.Context, day time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.rotate(ctx, day)
}

// rotate runs without the service lock so the rotation loop never waits on
// a concurrent Stop.
func (s *Service) rotate(ctx context.Context, day time.Time) error {
	err := s.pipeline.Merge().Rotate(ctx, day)
	// The merge store is already cleared when only its snapshot failed.
	s.ranking.Reset(ctx)
	s.deduper.Reset(ctx)
	if err != nil {
		return fmt.Errorf("rotate: %w", err)
	}
	return nil
}

func (s *Service) rotateLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.rotateEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := s.clock()
			if normalize.Day(now) == s.pipeline.Merge().Day() {
				continue
			}
			if err := s.rotate(ctx, now); err != nil {
				s.logger.Error(ctx, "day rotation failed", logger.Error(err))
			}
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			metrics.UpdateSystemMemoryUsage(mem.Alloc)
			metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
		}
	}
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	m := s.pipeline.Merge()
	stats := map[string]interface{}{
		"started":      s.started,
		"queue_size":   s.queueSize,
		"dedupe_size":  s.dedupeSize,
		"day":          m.Day(),
		"races":        m.Len(),
		"dirty_merges": m.Dirty(),
	}
	if s.started {
		stats["queue_length"] = s.queue.Len(ctx)
		stats["ranked_races"] = s.ranking.Count(ctx)
		stats["fingerprints"] = s.deduper.Size()
		stats["processed"] = s.pool.Processed()
		if snap := s.ranking.Snapshot(); snap != nil && !snap.Published.IsZero() {
			stats["ranking_published_at"] = snap.Published
		}
	}
	return stats
}

// RowOf flattens a ranking entry into a report row.
func RowOf(e repository.Entry) types.Row {
	row := types.Row{
		Rank:          e.Rank,
		RaceKey:       e.RaceKey,
		Venue:         e.Summary.Venue,
		RaceType:      e.Summary.RaceType,
		ScheduledTime: e.Summary.ScheduledTime,
		FieldSize:     e.Summary.FieldSize,
		Score:         e.Score,
		Revision:      e.Revision,
		Reasons:       e.Result.Reasons,
	}
	if f := e.Summary.Favourite; f != nil {
		row.Favourite = &types.Runner{Name: f.Name, Odds: f.Odds}
	}
	if f := e.Summary.SecondFavourite; f != nil {
		row.SecondFavourite = &types.Runner{Name: f.Name, Odds: f.Odds}
	}
	return row
}

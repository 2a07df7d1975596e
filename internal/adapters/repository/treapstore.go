package repository

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: score DESC, then race key ASC (deterministic). "less" means
// ranks earlier, so in-order traversal yields the ranking best first.

// scoreScale controls fixed-point scaling from float64.
const scoreScale = 1_000_000_000

type scoreFP int64

func toFixedPoint(x float64) scoreFP {
	if math.IsNaN(x) {
		return 0
	}
	scaled := x * scoreScale
	if scaled >= float64(math.MaxInt64) {
		return scoreFP(math.MaxInt64)
	}
	if scaled <= float64(math.MinInt64) {
		return scoreFP(math.MinInt64)
	}
	return scoreFP(math.Round(scaled))
}

func toFloat(x scoreFP) float64 {
	return float64(x) / scoreScale
}

// record is what the store keeps per race.
type record struct {
	score   scoreFP
	summary Summary
	result  model.ScoreResult
}

// Snapshot is an immutable view of the ranking, republished periodically
// for lock-free reads.
type Snapshot struct {
	RankByRace map[string]int
	TopCache   []Entry
	Published  time.Time
}

type node struct {
	key   string
	score scoreFP
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func less(aScore scoreFP, aKey string, bScore scoreFP, bKey string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aKey < bKey
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

// priority hashes the key so the tree shape does not depend on score order.
func priority(key string) uint64 {
	// FNV-1a
	h := uint64(14695981039346656037)
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return h
}

func insert(n *node, key string, score scoreFP) *node {
	if n == nil {
		return &node{key: key, score: score, prio: priority(key), size: 1}
	}
	if less(score, key, n.score, n.key) {
		n.left = insert(n.left, key, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, key, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, key string, score scoreFP) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && key == n.key:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, key, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, key, score)
		}
	case less(score, key, n.score, n.key):
		n.left = deleteNode(n.left, key, score)
	default:
		n.right = deleteNode(n.right, key, score)
	}
	fix(n)
	return n
}

// walk visits nodes in rank order until visit returns false.
func walk(n *node, visit func(*node) bool) bool {
	if n == nil {
		return true
	}
	if !walk(n.left, visit) {
		return false
	}
	if !visit(n) {
		return false
	}
	return walk(n.right, visit)
}

// TreapStore ranks races by their latest score.
type TreapStore struct {
	mu               sync.RWMutex
	root             *node
	byKey            map[string]record
	snapshotInterval time.Duration
	topCacheSize     int

	snapshot atomic.Pointer[Snapshot]

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTreapStore constructs a treap store and starts the snapshot publisher.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		snapshotInterval: time.Second,
		topCacheSize:     50,
		byKey:            make(map[string]record),
		stopChan:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshot.Store(&Snapshot{RankByRace: map[string]int{}})
	s.startPeriodicSnapshots(ctx)
	return s
}

func (s *TreapStore) startPeriodicSnapshots(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.PublishSnapshot()
			}
		}
	}()
}

// PublishSnapshot rebuilds the read snapshot now.
func (s *TreapStore) PublishSnapshot() {
	start := time.Now()
	s.mu.RLock()
	all := s.collect(0)
	s.mu.RUnlock()

	assignRanksWithTies(all)
	ranks := make(map[string]int, len(all))
	for _, e := range all {
		ranks[e.RaceKey] = e.Rank
	}
	top := all
	if len(top) > s.topCacheSize {
		top = top[:s.topCacheSize]
	}
	s.snapshot.Store(&Snapshot{RankByRace: ranks, TopCache: top, Published: time.Now()})
	metrics.RecordRankingSnapshot(float64(time.Since(start).Microseconds()) / 1000)
}

// Snapshot returns the last published snapshot.
func (s *TreapStore) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Close stops the snapshot publisher.
func (s *TreapStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// Upsert implements Store.Upsert in O(log n) expected time.
func (s *TreapStore) Upsert(_ context.Context, summary Summary, result model.ScoreResult) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRankingUpdateLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	ns := toFixedPoint(result.TotalScore)

	s.mu.Lock()
	if old, ok := s.byKey[result.RaceKey]; ok {
		if result.Revision <= old.result.Revision {
			s.mu.Unlock()
			return false, nil
		}
		s.root = deleteNode(s.root, result.RaceKey, old.score)
	}
	s.byKey[result.RaceKey] = record{score: ns, summary: summary, result: result}
	s.root = insert(s.root, result.RaceKey, ns)
	n := len(s.byKey)
	s.mu.Unlock()

	metrics.UpdateRankingRecords(n)
	return true, nil
}

// Rank returns the current rank and entry for a race.
func (s *TreapStore) Rank(_ context.Context, raceKey string) (Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRankingQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	s.mu.RLock()
	if _, ok := s.byKey[raceKey]; !ok {
		s.mu.RUnlock()
		metrics.RecordErrorByComponent("repository", "not_found")
		return Entry{}, ErrNotFound
	}
	all := s.collect(0)
	s.mu.RUnlock()

	assignRanksWithTies(all)
	for _, e := range all {
		if e.RaceKey == raceKey {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

// TopN returns the top N entries ordered by score desc.
func (s *TreapStore) TopN(_ context.Context, n int) ([]Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRankingQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	out := s.collect(n)
	s.mu.RUnlock()

	assignRanksWithTies(out)
	return out, nil
}

// Report returns the filtered, ordered report. Ranks always reflect the
// score order, whatever the requested sort.
func (s *TreapStore) Report(_ context.Context, f Filter) ([]Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRankingQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if err := f.Validate(); err != nil {
		metrics.RecordErrorByComponent("repository", "invalid_filter")
		return nil, err
	}
	s.mu.RLock()
	all := s.collect(0)
	s.mu.RUnlock()

	assignRanksWithTies(all)
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if f.match(e) {
			out = append(out, e)
		}
	}
	f.order(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Count returns the number of ranked races.
func (s *TreapStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// Reset drops every race.
func (s *TreapStore) Reset(_ context.Context) {
	s.mu.Lock()
	s.root = nil
	s.byKey = make(map[string]record)
	s.mu.Unlock()
	metrics.UpdateRankingRecords(0)
	s.PublishSnapshot()
}

// collect returns up to limit entries in rank order; limit <= 0 means all.
// Callers hold at least the read lock.
func (s *TreapStore) collect(limit int) []Entry {
	capacity := len(s.byKey)
	if limit > 0 && limit < capacity {
		capacity = limit
	}
	out := make([]Entry, 0, capacity)
	walk(s.root, func(n *node) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		rec, ok := s.byKey[n.key]
		if ok {
			out = append(out, Entry{
				RaceKey:  n.key,
				Score:    toFloat(rec.score),
				Revision: rec.result.Revision,
				Summary:  rec.summary,
				Result:   rec.result,
			})
		}
		return true
	})
	return out
}

// assignRanksWithTies gives equal scores the same rank; the next distinct
// score takes the next consecutive rank.
func assignRanksWithTies(entries []Entry) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Score != entries[i-1].Score {
			rank++
		}
		entries[i].Rank = rank
	}
}

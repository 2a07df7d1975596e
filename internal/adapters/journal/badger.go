// Package journal keeps every field observation the merge engine evaluates
// in an embedded badger database, keyed by race so the evidence behind a
// record can be listed later.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/pkg/logger"
)

const (
	obsPrefix = "obs/"
	dayKey    = "meta/day"
	seqKey    = "meta/seq"
	seqLease  = 1000
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("journal closed")

// Config holds configuration for the journal database.
type Config struct {
	// Path is the badger directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM; used by tests.
	InMemory bool
	// SyncWrites makes each batch durable before Record returns.
	SyncWrites bool
	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration
	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
	// Logger receives badger's own log lines. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Journal implements merge.ObservationSink.
type Journal struct {
	db  *badger.DB
	seq *badger.Sequence
	log logger.Logger

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Open opens (or creates) the journal.
func Open(cfg Config) (*Journal, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("journal path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	seq, err := db.GetSequence([]byte(seqKey), seqLease)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal sequence: %w", err)
	}

	j := &Journal{
		db:     db,
		seq:    seq,
		log:    logger.Named("journal"),
		stopCh: make(chan struct{}),
	}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		j.wg.Add(1)
		go j.gcLoop(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return j, nil
}

func (j *Journal) gcLoop(interval time.Duration, ratio float64) {
	defer j.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite just means nothing was worth collecting.
			if err := j.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				j.log.Warn(context.Background(), "journal value log GC failed", logger.Error(err))
			}
		}
	}
}

// obsKey is obs/<race key>/<big-endian sequence>, so a prefix scan returns a
// race's observations in arrival order.
func obsKey(raceKey string, n uint64) []byte {
	k := make([]byte, 0, len(obsPrefix)+len(raceKey)+1+8)
	k = append(k, obsPrefix...)
	k = append(k, raceKey...)
	k = append(k, '/')
	return binary.BigEndian.AppendUint64(k, n)
}

func racePrefix(raceKey string) []byte {
	return []byte(obsPrefix + raceKey + "/")
}

// Record appends observations in one batch.
func (j *Journal) Record(ctx context.Context, obs []model.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := j.db.NewWriteBatch()
	defer wb.Cancel()
	for _, o := range obs {
		n, err := j.seq.Next()
		if err != nil {
			return fmt.Errorf("journal sequence: %w", err)
		}
		val, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode observation: %w", err)
		}
		if err := wb.Set(obsKey(o.RaceKey, n), val); err != nil {
			return fmt.Errorf("journal write: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("journal flush: %w", err)
	}
	return nil
}

// Observations returns the observations of one race in arrival order.
// limit <= 0 returns all of them.
func (j *Journal) Observations(ctx context.Context, raceKey string, limit int) ([]model.Observation, error) {
	var out []model.Observation
	err := j.db.View(func(txn *badger.Txn) error {
		prefix := racePrefix(raceKey)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var o model.Observation
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &o) }); err != nil {
				return fmt.Errorf("decode observation: %w", err)
			}
			out = append(out, o)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Day returns the racing day the journal currently holds.
func (j *Journal) Day() (string, error) {
	var day string
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dayKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			day = string(v)
			return nil
		})
	})
	return day, err
}

// Rotate drops all observations and stamps the new day.
func (j *Journal) Rotate(ctx context.Context, day string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := j.db.DropPrefix([]byte(obsPrefix)); err != nil {
		return fmt.Errorf("journal rotate: %w", err)
	}
	if err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(dayKey), []byte(day))
	}); err != nil {
		return fmt.Errorf("journal rotate: %w", err)
	}
	j.log.Info(ctx, "journal rotated", logger.String("day", day))
	return nil
}

// Close stops GC, releases the sequence lease and closes the database.
func (j *Journal) Close() error {
	var err error
	j.stopOnce.Do(func() {
		close(j.stopCh)
		j.wg.Wait()
		err = errors.Join(j.seq.Release(), j.db.Close())
	})
	return err
}

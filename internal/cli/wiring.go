package cli

import (
	"path/filepath"
	"time"

	"github.com/okian/paddock/internal/adapters/journal"
	"github.com/okian/paddock/internal/adapters/snapshot"
	service "github.com/okian/paddock/internal/app"
	"github.com/okian/paddock/internal/config"
	"github.com/okian/paddock/internal/domain/merge"
	"github.com/okian/paddock/internal/domain/scoring"
	"github.com/okian/paddock/internal/domain/signals"
	"github.com/okian/paddock/pkg/logger"
)

const journalDir = "journal"

// newPipeline builds the merge, signal and scoring engines from cfg. Extra
// merge options attach persistence.
func newPipeline(cfg *config.Config, opts ...merge.Option) *service.Pipeline {
	sig := signals.NewEngine(
		signals.WithSteamWindow(minutes(cfg.Signals.SteamWindowMinutes)),
		signals.WithMinShortening(cfg.Signals.MinShortening),
	)
	sc := scoring.NewEngine(
		scoring.WithWeights(cfg.Weights),
		scoring.WithProfiles(cfg.TrackProfiles),
		scoring.WithReasonThreshold(cfg.ReasonThreshold),
	)
	return service.NewPipeline(merge.NewEngine(opts...), sig, sc)
}

// persistentMerge returns the merge options writing snapshots under the
// data dir, plus the journal sink when one is open.
func persistentMerge(cfg *config.Config, j *journal.Journal) []merge.Option {
	opts := []merge.Option{
		merge.WithPersister(snapshot.NewFileStore(cfg.DataDir, snapshot.WithLogger(logger.Named("snapshot")))),
		merge.WithSnapshotEvery(cfg.Snapshot.Every),
		merge.WithSnapshotInterval(config.Seconds(cfg.Snapshot.IntervalSeconds)),
		merge.WithLogger(logger.Named("merge")),
	}
	if j != nil {
		opts = append(opts, merge.WithObservationSink(j))
	}
	return opts
}

// openJournal opens the badger journal, or returns nil when it is disabled.
func openJournal(cfg *config.Config) (*journal.Journal, error) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}
	jc := journal.DefaultConfig(filepath.Join(cfg.DataDir, journalDir))
	jc.SyncWrites = cfg.Journal.SyncWrites
	jc.GCInterval = config.Seconds(cfg.Journal.GCIntervalSeconds)
	jc.Logger = logger.Slog()
	return journal.Open(jc)
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

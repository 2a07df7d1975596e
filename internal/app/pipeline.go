package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/paddock/internal/domain/merge"
	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/scoring"
	"github.com/okian/paddock/internal/domain/signals"
	"github.com/okian/paddock/pkg/metrics"
)

// maxRescoreAttempts bounds how often a score is recomputed when the
// record's revision moves during scoring.
const maxRescoreAttempts = 3

// Scored is a record copy together with the score computed from it.
type Scored struct {
	Record model.RaceRecord
	Result model.ScoreResult
}

// Pipeline runs merge, signals and scoring for one document at a time.
// Both the desktop service and the mobile monitor drive it from a single
// goroutine.
type Pipeline struct {
	merge   *merge.Engine
	signals *signals.Engine
	scoring *scoring.Engine
}

// NewPipeline wires the three engines together.
func NewPipeline(m *merge.Engine, sig *signals.Engine, sc *scoring.Engine) *Pipeline {
	return &Pipeline{merge: m, signals: sig, scoring: sc}
}

// Merge exposes the merge engine.
func (p *Pipeline) Merge() *merge.Engine { return p.merge }

// Score computes the score of rec with the profile matching its venue.
func (p *Pipeline) Score(rec model.RaceRecord) model.ScoreResult {
	start := time.Now()
	values := p.signals.Compute(rec)

	var profile *model.TrackProfile
	if tp, ok := p.scoring.ProfileFor(venueOf(rec)); ok {
		profile = &tp
	}
	res := p.scoring.Score(rec, values, profile)
	metrics.RecordScoringLatency(float64(time.Since(start).Microseconds()) / 1000)
	return res
}

// Process merges doc and, when the record changed, scores it.
// The returned Scored is nil for unchanged or rejected documents.
func (p *Pipeline) Process(ctx context.Context, doc model.RawDocument) (merge.Outcome, *Scored, error) {
	out, err := p.merge.Ingest(ctx, doc)
	if err != nil || !out.Changed() {
		return out, nil, err
	}
	scored, err := p.Rescore(ctx, out.RaceKey)
	return out, scored, err
}

// Rescore scores the current record for key. A result is only returned
// when the revision it was computed from is still the latest one.
func (p *Pipeline) Rescore(ctx context.Context, key string) (*Scored, error) {
	for attempt := 0; attempt < maxRescoreAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, ok := p.merge.Get(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRaceNotFound, key)
		}
		res := p.Score(rec)
		if p.merge.Revision(key) == rec.Revision {
			return &Scored{Record: rec, Result: res}, nil
		}
		metrics.RecordStaleRescore()
	}
	return nil, fmt.Errorf("%w: %s", ErrStaleScore, key)
}

// venueOf falls back to the track segment of the race key.
func venueOf(rec model.RaceRecord) string {
	if rec.Venue != "" {
		return rec.Venue
	}
	track, _, _ := strings.Cut(rec.RaceKey, "::")
	return strings.ReplaceAll(track, "_", " ")
}

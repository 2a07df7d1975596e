// Package scoring combines signal values into an explainable race score.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/signals"
)

// Default scoring configuration constants.
const (
	defaultReasonThreshold = 0.01
	insufficientData       = "insufficient data: no priced runners"
)

// DefaultWeights returns the built-in signal weights.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		signals.ValueVsSP:         0.35,
		signals.SteamMove:         0.25,
		signals.MarketConsensus:   0.15,
		signals.TrainerForm:       0.10,
		signals.JockeyUplift:      0.05,
		signals.OverlayConfidence: 0.10,
	}
}

// DefaultProfiles returns the built-in track profiles.
func DefaultProfiles() []model.TrackProfile {
	return []model.TrackProfile{
		{Match: "ascot", Multipliers: map[string]float64{signals.SteamMove: 1.2}},
	}
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithWeights replaces the weight table. Negative weights are dropped.
func WithWeights(weights map[string]float64) Option {
	return func(e *Engine) {
		if len(weights) == 0 {
			return
		}
		// copy so later changes to the caller's map are not observed
		e.weights = make(map[string]float64, len(weights))
		for name, w := range weights {
			if w >= 0 {
				e.weights[name] = w
			}
		}
	}
}

// WithProfiles sets the track profiles consulted by ProfileFor.
func WithProfiles(profiles []model.TrackProfile) Option {
	return func(e *Engine) {
		e.profiles = make([]model.TrackProfile, 0, len(profiles))
		for _, p := range profiles {
			if strings.TrimSpace(p.Match) == "" {
				continue
			}
			mults := make(map[string]float64, len(p.Multipliers))
			for k, v := range p.Multipliers {
				mults[k] = v
			}
			e.profiles = append(e.profiles, model.TrackProfile{Match: strings.ToLower(strings.TrimSpace(p.Match)), Multipliers: mults})
		}
	}
}

// WithReasonThreshold sets the smallest absolute contribution that earns a
// reason line.
func WithReasonThreshold(x float64) Option {
	return func(e *Engine) {
		if x >= 0 {
			e.threshold = x
		}
	}
}

// WithClock overrides the clock used for ComputedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.clock = now
		}
	}
}

// Engine scores races. It holds no mutable state after construction and
// is safe for concurrent use.
type Engine struct {
	weights   map[string]float64
	profiles  []model.TrackProfile
	threshold float64
	clock     func() time.Time
}

// NewEngine creates a scoring engine with the default weights and profiles.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		weights:   DefaultWeights(),
		threshold: defaultReasonThreshold,
		clock:     time.Now,
	}
	WithProfiles(DefaultProfiles())(e)

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Weight returns the configured weight for a signal and whether it is scored.
func (e *Engine) Weight(signal string) (float64, bool) {
	w, ok := e.weights[signal]
	return w, ok
}

// ProfileFor returns the profile whose match key is contained in venue.
// The longest key wins; equal lengths fall back to the lexically smaller key.
func (e *Engine) ProfileFor(venue string) (model.TrackProfile, bool) {
	v := strings.ToLower(venue)
	var best *model.TrackProfile
	for i := range e.profiles {
		p := &e.profiles[i]
		if !strings.Contains(v, p.Match) {
			continue
		}
		if best == nil || len(p.Match) > len(best.Match) ||
			(len(p.Match) == len(best.Match) && p.Match < best.Match) {
			best = p
		}
	}
	if best == nil {
		return model.TrackProfile{}, false
	}
	return *best, true
}

type contribution struct {
	name   string
	value  float64
	weight float64
}

// Score computes the weighted total for rec. Only ComputedAt depends on the
// clock; identical inputs give identical totals and reasons.
func (e *Engine) Score(rec model.RaceRecord, values map[string]float64, profile *model.TrackProfile) model.ScoreResult {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	reported := make(map[string]float64, len(values))
	var total float64
	var parts []contribution
	weighted := make([]string, 0, len(e.weights))
	for _, name := range names {
		v := values[name]
		reported[name] = v
		w, ok := e.weights[name]
		if !ok {
			continue
		}
		ew := w * profile.Multiplier(name)
		if ew != 0 {
			weighted = append(weighted, name)
		}
		c := v * ew
		total += c
		if math.Abs(c) > e.threshold {
			parts = append(parts, contribution{name: name, value: c, weight: ew})
		}
	}

	sort.SliceStable(parts, func(i, j int) bool {
		ai, aj := math.Abs(parts[i].value), math.Abs(parts[j].value)
		if ai != aj {
			return ai > aj
		}
		return parts[i].name < parts[j].name
	})
	reasons := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		reasons = append(reasons, fmt.Sprintf("%s contributed %.3f (weight %.3f)", p.name, p.value, p.weight))
	}
	if len(parts) == 0 {
		reasons = append(reasons, fmt.Sprintf("no signal above %.3f", e.threshold))
	}
	if len(rec.Priced()) == 0 {
		reasons = append(reasons, insufficientData)
	}

	return model.ScoreResult{
		RaceKey:    rec.RaceKey,
		Venue:      rec.Venue,
		Revision:   rec.Revision,
		TotalScore: total,
		Signals:    reported,
		Weighted:   weighted,
		Reasons:    reasons,
		ComputedAt: e.clock(),
	}
}

// Explain renders a result as a stable, human-readable report.
func Explain(r model.ScoreResult) string {
	var b strings.Builder
	venue := r.Venue
	if venue == "" {
		venue = "-"
	}
	fmt.Fprintf(&b, "race:     %s\n", r.RaceKey)
	fmt.Fprintf(&b, "venue:    %s\n", venue)
	fmt.Fprintf(&b, "revision: %d\n", r.Revision)
	fmt.Fprintf(&b, "total:    %.4f\n", r.TotalScore)
	b.WriteString("signals:\n")
	names := make([]string, 0, len(r.Signals))
	for name := range r.Signals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %-20s %.4f\n", name, r.Signals[name])
	}
	b.WriteString("reasons:\n")
	for _, reason := range r.Reasons {
		fmt.Fprintf(&b, "  - %s\n", reason)
	}
	return b.String()
}

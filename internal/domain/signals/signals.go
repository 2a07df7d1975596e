// Package signals derives named numeric indicators from a merged race
// record. Every signal is a pure function of the record: no clock, no I/O,
// and sparse data yields 0.
package signals

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/paddock/internal/domain/model"
)

// Built-in signal names.
const (
	OverlayConfidence = "overlay_confidence"
	MarketConsensus   = "market_consensus"
	SteamMove         = "steam_move"
	ValueVsSP         = "value_vs_sp"
	TrainerForm       = "trainer_form"
	JockeyUplift      = "jockey_uplift"
	Overround         = "overround"
)

// Definition is one named signal.
type Definition struct {
	Name    string
	Compute func(rec model.RaceRecord) float64
}

// Engine evaluates a fixed, ordered set of definitions.
type Engine struct {
	defs          []Definition
	window        time.Duration
	minShortening float64
}

// NewEngine creates an engine with the built-in signals followed by any
// custom definitions.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		window:        30 * time.Minute,
		minShortening: 0.05,
	}
	var custom []Definition
	for _, opt := range opts {
		opt(e, &custom)
	}
	e.defs = append([]Definition{
		{Name: OverlayConfidence, Compute: overlayConfidence},
		{Name: MarketConsensus, Compute: marketConsensus},
		{Name: SteamMove, Compute: e.steamMove},
		{Name: ValueVsSP, Compute: valueVsSP},
		{Name: TrainerForm, Compute: maxRunnerField(model.FieldTrainerForm)},
		{Name: JockeyUplift, Compute: maxRunnerField(model.FieldJockeyUplift)},
		{Name: Overround, Compute: overround},
	}, custom...)
	return e
}

// Names returns the signal names in evaluation order.
func (e *Engine) Names() []string {
	out := make([]string, len(e.defs))
	for i, d := range e.defs {
		out[i] = d.Name
	}
	return out
}

// Compute evaluates every signal for rec.
func (e *Engine) Compute(rec model.RaceRecord) map[string]float64 {
	out := make(map[string]float64, len(e.defs))
	for _, d := range e.defs {
		v := d.Compute(rec)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[d.Name] = v
	}
	return out
}

var tierCredit = map[model.Tier]float64{
	model.TierObserved:      1.0,
	model.TierKnownOdds:     0.85,
	model.TierStartingPrice: 0.5,
	model.TierEstimated:     0.25,
	model.TierUnknown:       0,
}

func overlayConfidence(rec model.RaceRecord) float64 {
	priced := rec.Priced()
	if len(priced) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range priced {
		sum += tierCredit[r.OddsTier]
	}
	return sum / float64(len(priced))
}

func marketConsensus(rec model.RaceRecord) float64 {
	var total float64
	var n int
	for _, r := range rec.Active() {
		quotes := latestBySource(r.OddsHistory)
		if len(quotes) < 2 {
			continue
		}
		mean, sd := meanStd(quotes)
		if mean <= 0 {
			continue
		}
		total += math.Max(0, 1-sd/mean)
		n++
	}
	if n > 0 {
		return total / float64(n)
	}
	book := overround(rec)
	if book <= 0 {
		return 0
	}
	return math.Min(1, 1/book)
}

func latestBySource(history []model.OddsPoint) []float64 {
	latest := make(map[string]model.OddsPoint)
	for _, p := range history {
		cur, ok := latest[p.SourceID]
		if !ok || !p.At.Before(cur.At) {
			latest[p.SourceID] = p
		}
	}
	sources := make([]string, 0, len(latest))
	for s := range latest {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	out := make([]float64, 0, len(sources))
	for _, s := range sources {
		out = append(out, latest[s].Odds)
	}
	return out
}

func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// steamMove is the largest qualifying shortening over the window that ends
// at each runner's latest price.
func (e *Engine) steamMove(rec model.RaceRecord) float64 {
	best := 0.0
	for _, r := range rec.Active() {
		if len(r.OddsHistory) < 2 {
			continue
		}
		pts := append([]model.OddsPoint(nil), r.OddsHistory...)
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].At.Before(pts[j].At) })
		last := pts[len(pts)-1]
		from := last.At.Add(-e.window)
		var first *model.OddsPoint
		for i := range pts {
			if !pts[i].At.Before(from) {
				first = &pts[i]
				break
			}
		}
		if first == nil || first.Odds <= 0 {
			continue
		}
		shortening := (first.Odds - last.Odds) / first.Odds
		if shortening >= e.minShortening && shortening > best {
			best = shortening
		}
	}
	return clamp01(best)
}

func valueVsSP(rec model.RaceRecord) float64 {
	var total float64
	var n int
	for _, r := range rec.Active() {
		var sp, quoted *model.OddsPoint
		for i := range r.OddsHistory {
			p := &r.OddsHistory[i]
			switch {
			case p.Tier == model.TierStartingPrice:
				if sp == nil || !p.At.Before(sp.At) {
					sp = p
				}
			case p.Tier >= model.TierKnownOdds:
				if quoted == nil || !p.At.Before(quoted.At) {
					quoted = p
				}
			}
		}
		if sp == nil || quoted == nil || sp.Odds <= 0 {
			continue
		}
		total += math.Max(0, (quoted.Odds-sp.Odds)/sp.Odds)
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Min(1, total/float64(n))
}

func maxRunnerField(field string) func(model.RaceRecord) float64 {
	return func(rec model.RaceRecord) float64 {
		best := 0.0
		for _, r := range rec.Active() {
			f, ok := r.Fields[field]
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(f.Value), 64)
			if err != nil {
				continue
			}
			if v > best {
				best = v
			}
		}
		return clamp01(best)
	}
}

func overround(rec model.RaceRecord) float64 {
	sum := 0.0
	for _, r := range rec.Priced() {
		sum += 1 / r.CurrentOdds
	}
	return sum
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

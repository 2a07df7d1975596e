// Package alert decides when a scored race is worth interrupting someone
// for. A race alerts when its total and the number of strong signals clear
// their thresholds, at most once per cooldown window.
package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/pkg/logger"
	"github.com/okian/paddock/pkg/metrics"
)

// Decision reasons.
const (
	ReasonAlerted      = "alerted"
	ReasonCooldown     = "cooldown"
	ReasonLowScore     = "below_minimum_score"
	ReasonFewSignals   = "too_few_signals"
	ReasonNotifyFailed = "notify_failed"
)

// Config holds the alert thresholds.
type Config struct {
	SignalThresh         float64
	MinSignalsOverThresh int
	MinimumScore         float64
	Cooldown             time.Duration
}

// StateStore persists the per-race alert state.
type StateStore interface {
	Load(ctx context.Context) (map[string]model.AlertState, error)
	Save(ctx context.Context, states map[string]model.AlertState) error
}

// Notifier delivers an alert.
type Notifier interface {
	Notify(ctx context.Context, raceKey string, totalScore float64, reasons []string) error
}

// Decision describes one evaluation.
type Decision struct {
	RaceKey  string  `json:"race_key"`
	Eligible bool    `json:"eligible"`
	Alerted  bool    `json:"alerted"`
	Active   int     `json:"active_signals"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// Engine owns alert state. Evaluations are serialized so a race can never
// alert twice inside one cooldown window.
type Engine struct {
	cfg      Config
	store    StateStore
	notifier Notifier
	log      logger.Logger

	mu     sync.Mutex
	states map[string]model.AlertState
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates an alert engine. store may be nil for in-memory use.
func NewEngine(cfg Config, store StateStore, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		log:      logger.Named("alert"),
		states:   make(map[string]model.AlertState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ActiveSignals counts the weighted signals at or above the threshold. A
// result with no Weighted list counts every signal.
func (e *Engine) ActiveSignals(result model.ScoreResult) int {
	n := 0
	if result.Weighted == nil {
		for _, v := range result.Signals {
			if v >= e.cfg.SignalThresh {
				n++
			}
		}
		return n
	}
	for _, name := range result.Weighted {
		if v, ok := result.Signals[name]; ok && v >= e.cfg.SignalThresh {
			n++
		}
	}
	return n
}

// Evaluate applies the alert rule to one result at time now.
func (e *Engine) Evaluate(ctx context.Context, result model.ScoreResult, now time.Time) (Decision, error) {
	d := Decision{
		RaceKey: result.RaceKey,
		Active:  e.ActiveSignals(result),
		Score:   result.TotalScore,
	}
	switch {
	case result.TotalScore < e.cfg.MinimumScore:
		d.Reason = ReasonLowScore
	case d.Active < e.cfg.MinSignalsOverThresh:
		d.Reason = ReasonFewSignals
	default:
		d.Eligible = true
	}
	if !d.Eligible {
		metrics.RecordAlertSuppressed(d.Reason)
		return d, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if st, ok := e.states[result.RaceKey]; ok && now.Sub(st.LastAlertAt) < e.cfg.Cooldown {
		d.Reason = ReasonCooldown
		metrics.RecordAlertSuppressed(d.Reason)
		e.log.Debug(ctx, "alert suppressed by cooldown",
			logger.String("race_key", result.RaceKey),
			logger.Time("last_alert_at", st.LastAlertAt))
		return d, nil
	}

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, result.RaceKey, result.TotalScore, result.Reasons); err != nil {
			d.Reason = ReasonNotifyFailed
			metrics.RecordAlertFailure("notify")
			return d, fmt.Errorf("%w: %s: %w", ErrNotifyFailed, result.RaceKey, err)
		}
	}

	e.states[result.RaceKey] = model.AlertState{
		RaceKey:          result.RaceKey,
		LastAlertAt:      now,
		LastAlertedScore: result.TotalScore,
	}
	d.Alerted = true
	d.Reason = ReasonAlerted
	metrics.RecordAlertEmitted()
	e.log.Info(ctx, "alert sent",
		logger.String("race_key", result.RaceKey),
		logger.Float64("score", result.TotalScore),
		logger.Int("active_signals", d.Active))

	if err := e.saveLocked(ctx); err != nil {
		metrics.RecordAlertFailure("persist")
		return d, err
	}
	return d, nil
}

func (e *Engine) saveLocked(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snapshot := make(map[string]model.AlertState, len(e.states))
	for k, v := range e.states {
		snapshot[k] = v
	}
	if err := e.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	return nil
}

// Restore loads persisted state. An unreadable file starts empty.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	states, err := e.store.Load(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.log.Warn(ctx, "starting with empty alert state", logger.Error(err))
		e.states = make(map[string]model.AlertState)
		return nil
	}
	e.states = make(map[string]model.AlertState, len(states))
	for k, v := range states {
		e.states[k] = v
	}
	e.log.Info(ctx, "alert state restored", logger.Int("races", len(e.states)))
	return nil
}

// Flush persists the current state.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveLocked(ctx)
}

// Rotate clears all state at the day boundary.
func (e *Engine) Rotate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = make(map[string]model.AlertState)
	return e.saveLocked(ctx)
}

// State returns the alert state of one race.
func (e *Engine) State(raceKey string) (model.AlertState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[raceKey]
	return st, ok
}

// States returns all alert states ordered by race key.
func (e *Engine) States() []model.AlertState {
	e.mu.Lock()
	out := make([]model.AlertState, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, st)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RaceKey < out[j].RaceKey })
	return out
}

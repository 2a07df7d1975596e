package model

import "time"

// TrackProfile overrides signal weights for venues matching Match.
type TrackProfile struct {
	Match       string             `json:"match" koanf:"match" validate:"required"`
	Multipliers map[string]float64 `json:"multipliers" koanf:"multipliers" validate:"dive,keys,required,endkeys,gte=0"`
}

// Multiplier returns the override for a signal, or 1.0.
func (p *TrackProfile) Multiplier(signal string) float64 {
	if p == nil {
		return 1.0
	}
	if m, ok := p.Multipliers[signal]; ok {
		return m
	}
	return 1.0
}

// ScoreResult is the immutable outcome of one scoring pass over a race.
// Weighted names the signals that carried a non-zero weight, sorted;
// reported-only signals such as overround are left out of it.
type ScoreResult struct {
	RaceKey    string             `json:"race_key"`
	Venue      string             `json:"venue,omitempty"`
	Revision   uint64             `json:"revision"`
	TotalScore float64            `json:"total_score"`
	Signals    map[string]float64 `json:"signals"`
	Weighted   []string           `json:"weighted"`
	Reasons    []string           `json:"reasons"`
	ComputedAt time.Time          `json:"computed_at"`
}

// AlertState records the last alert sent for a race.
type AlertState struct {
	RaceKey          string    `json:"race_key"`
	LastAlertAt      time.Time `json:"last_alert_at"`
	LastAlertedScore float64   `json:"last_alerted_score"`
}

// Observation is a single field candidate seen by the merge engine, kept as
// supporting evidence whether or not it was applied.
type Observation struct {
	RaceKey    string    `json:"race_key"`
	Runner     string    `json:"runner,omitempty"`
	Field      string    `json:"field"`
	Value      string    `json:"value"`
	Tier       Tier      `json:"tier"`
	SourceID   string    `json:"source_id,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	Applied    bool      `json:"applied"`
}

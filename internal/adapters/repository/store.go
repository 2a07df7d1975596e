// Package repository keeps the desktop ranking of scored races.
package repository

import (
	"context"
	"strings"
	"time"

	"github.com/okian/paddock/internal/domain/model"
)

// RunnerSummary names a runner and its current price.
type RunnerSummary struct {
	Name string  `json:"name"`
	Odds float64 `json:"odds"`
}

// Summary is the part of a RaceRecord the report filters on.
type Summary struct {
	Venue           string         `json:"venue,omitempty"`
	RaceType        string         `json:"race_type,omitempty"`
	ScheduledTime   time.Time      `json:"scheduled_time,omitempty"`
	FieldSize       int            `json:"field_size"`
	Favourite       *RunnerSummary `json:"favourite,omitempty"`
	SecondFavourite *RunnerSummary `json:"second_favourite,omitempty"`
}

// SummaryOf derives the report columns from a record.
func SummaryOf(rec model.RaceRecord) Summary {
	s := Summary{
		Venue:         rec.Venue,
		RaceType:      rec.Field(model.FieldRaceType),
		ScheduledTime: rec.ScheduledTime,
		FieldSize:     len(rec.Active()),
	}
	if s.Venue == "" {
		track, _, _ := strings.Cut(rec.RaceKey, "::")
		s.Venue = strings.ReplaceAll(track, "_", " ")
	}
	fav, second := rec.Favourites()
	if fav != nil {
		s.Favourite = &RunnerSummary{Name: fav.Name, Odds: fav.CurrentOdds}
	}
	if second != nil {
		s.SecondFavourite = &RunnerSummary{Name: second.Name, Odds: second.CurrentOdds}
	}
	return s
}

// Entry is one ranked race.
type Entry struct {
	Rank     int               `json:"rank"`
	RaceKey  string            `json:"race_key"`
	Score    float64           `json:"score"`
	Revision uint64            `json:"revision"`
	Summary  Summary           `json:"summary"`
	Result   model.ScoreResult `json:"result"`
}

// Store provides read/write access to the ranking state.
type Store interface {
	// Upsert stores result when its revision is newer than the stored one.
	// It returns false for stale results.
	Upsert(ctx context.Context, summary Summary, result model.ScoreResult) (bool, error)

	// Rank returns the current rank of a race. Returns ErrNotFound if the
	// race has not been scored.
	Rank(ctx context.Context, raceKey string) (Entry, error)

	// TopN returns the top-N entries ordered by score desc.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Report returns the races matching f in the requested order.
	Report(ctx context.Context, f Filter) ([]Entry, error)

	// Count returns the number of ranked races.
	Count(ctx context.Context) int

	// Reset drops every race, used at the day boundary.
	Reset(ctx context.Context)
}

// Package types contains common types used across the application
package types

import (
	"errors"
	"strconv"
	"time"

	"github.com/okian/paddock/internal/domain/model"
)

// Error kinds shared by the service and its transports.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
)

// Submission statuses.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
	StatusRejected  = "rejected"
)

// SubmitResult acknowledges one submitted document.
type SubmitResult struct {
	ID        string `json:"id,omitempty"`
	RaceKey   string `json:"race_key"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// RaceDetail is a merged record with its latest published score.
type RaceDetail struct {
	Record model.RaceRecord   `json:"record"`
	Rank   int                `json:"rank,omitempty"`
	Score  *model.ScoreResult `json:"score,omitempty"`
}

// Runner is a named runner with its current decimal price.
type Runner struct {
	Name string  `json:"name"`
	Odds float64 `json:"odds"`
}

// Row represents one line of the desktop race report
type Row struct {
	Rank            int       `json:"rank"`
	RaceKey         string    `json:"race_key"`
	Venue           string    `json:"venue,omitempty"`
	RaceType        string    `json:"race_type,omitempty"`
	ScheduledTime   time.Time `json:"scheduled_time,omitempty"`
	FieldSize       int       `json:"field_size"`
	Favourite       *Runner   `json:"favourite,omitempty"`
	SecondFavourite *Runner   `json:"second_favourite,omitempty"`
	Score           float64   `json:"score"`
	Revision        uint64    `json:"revision"`
	Reasons         []string  `json:"reasons,omitempty"`
}

// Header is the column order used by Columns.
var Header = []string{"RANK", "RACE", "TIME", "RUNNERS", "FAV", "2ND FAV", "SCORE"}

// Columns renders the row for tabular output. loc selects the display
// timezone; nil means UTC.
func (r Row) Columns(loc *time.Location) []string {
	if loc == nil {
		loc = time.UTC
	}
	when := "-"
	if !r.ScheduledTime.IsZero() {
		when = r.ScheduledTime.In(loc).Format("15:04")
	}
	race := r.Venue
	if race == "" {
		race = r.RaceKey
	}
	if r.RaceType != "" {
		race += " (" + r.RaceType + ")"
	}
	return []string{
		strconv.Itoa(r.Rank),
		race,
		when,
		strconv.Itoa(r.FieldSize),
		r.Favourite.String(),
		r.SecondFavourite.String(),
		strconv.FormatFloat(r.Score, 'f', 2, 64),
	}
}

// String renders "Name @ 3.50", or "-" for a missing runner.
func (r *Runner) String() string {
	if r == nil {
		return "-"
	}
	return r.Name + " @ " + strconv.FormatFloat(r.Odds, 'f', 2, 64)
}

package model

import (
	"sort"
	"time"
)

// FieldConfidence is the merged value of one field together with the trust
// metadata that let it win.
type FieldConfidence struct {
	Field      string    `json:"field"`
	Value      string    `json:"value"`
	Tier       Tier      `json:"tier"`
	SourceID   string    `json:"source_id,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// OddsPoint is one entry of a runner's odds time series.
type OddsPoint struct {
	At       time.Time `json:"at"`
	Odds     float64   `json:"odds"`
	Tier     Tier      `json:"tier"`
	SourceID string    `json:"source_id,omitempty"`
}

// RunnerRecord is the canonical view of one runner. It is owned by its
// RaceRecord.
type RunnerRecord struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	CurrentOdds float64                    `json:"current_odds,omitempty"`
	OddsTier    Tier                       `json:"odds_tier"`
	OddsHistory []OddsPoint                `json:"odds_history,omitempty"`
	Scratched   bool                       `json:"scratched,omitempty"`
	Fields      map[string]FieldConfidence `json:"fields,omitempty"`
}

// Priced reports whether the runner is still running and has a usable price.
func (r RunnerRecord) Priced() bool {
	return !r.Scratched && r.CurrentOdds > 1
}

// RaceRecord is the canonical, merged view of one race.
type RaceRecord struct {
	RaceKey       string                     `json:"race_key"`
	Venue         string                     `json:"venue,omitempty"`
	ScheduledTime time.Time                  `json:"scheduled_time,omitempty"`
	Runners       []RunnerRecord             `json:"runners,omitempty"`
	Fields        map[string]FieldConfidence `json:"fields,omitempty"`
	Sources       []string                   `json:"sources,omitempty"`
	LastMergedAt  time.Time                  `json:"last_merged_at"`
	Revision      uint64                     `json:"revision"`
}

// Clone returns a deep copy that shares no mutable state with r.
func (r RaceRecord) Clone() RaceRecord {
	out := r
	out.Fields = cloneFields(r.Fields)
	out.Sources = append([]string(nil), r.Sources...)
	out.Runners = make([]RunnerRecord, len(r.Runners))
	for i, rr := range r.Runners {
		c := rr
		c.Fields = cloneFields(rr.Fields)
		c.OddsHistory = append([]OddsPoint(nil), rr.OddsHistory...)
		out.Runners[i] = c
	}
	return out
}

func cloneFields(in map[string]FieldConfidence) map[string]FieldConfidence {
	if in == nil {
		return nil
	}
	out := make(map[string]FieldConfidence, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Runner returns the runner with the given normalized id.
func (r RaceRecord) Runner(id string) (RunnerRecord, bool) {
	for _, rr := range r.Runners {
		if rr.ID == id {
			return rr, true
		}
	}
	return RunnerRecord{}, false
}

// Field returns the merged value of a race-level field, or "".
func (r RaceRecord) Field(name string) string {
	return r.Fields[name].Value
}

// Priced returns non-scratched runners that carry a usable price.
func (r RaceRecord) Priced() []RunnerRecord {
	out := make([]RunnerRecord, 0, len(r.Runners))
	for _, rr := range r.Runners {
		if rr.Priced() {
			out = append(out, rr)
		}
	}
	return out
}

// Active returns the runners not flagged as scratched.
func (r RaceRecord) Active() []RunnerRecord {
	out := make([]RunnerRecord, 0, len(r.Runners))
	for _, rr := range r.Runners {
		if !rr.Scratched {
			out = append(out, rr)
		}
	}
	return out
}

// Favourites returns the shortest and second-shortest priced runners.
// Ties are broken by runner id.
func (r RaceRecord) Favourites() (fav, second *RunnerRecord) {
	priced := r.Priced()
	sort.SliceStable(priced, func(i, j int) bool {
		if priced[i].CurrentOdds != priced[j].CurrentOdds {
			return priced[i].CurrentOdds < priced[j].CurrentOdds
		}
		return priced[i].ID < priced[j].ID
	})
	if len(priced) > 0 {
		fav = &priced[0]
	}
	if len(priced) > 1 {
		second = &priced[1]
	}
	return fav, second
}

package repository

import (
	"fmt"
	"sort"
	"strings"
)

// Report orderings.
const (
	SortScore     = "score"
	SortTime      = "time"
	SortFieldSize = "field_size"
	SortVenue     = "venue"
)

// Filter selects and orders races for the report. Zero values disable the
// corresponding filter.
type Filter struct {
	MinScore     float64
	MinRunners   int
	MaxRunners   int
	ExcludeTypes []string
	Sort         string
	Limit        int
}

// Validate checks the sort key and limits.
func (f Filter) Validate() error {
	switch f.Sort {
	case "", SortScore, SortTime, SortFieldSize, SortVenue:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSort, f.Sort)
	}
	if f.Limit < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, f.Limit)
	}
	return nil
}

func (f Filter) match(e Entry) bool {
	if e.Score < f.MinScore {
		return false
	}
	if f.MinRunners > 0 && e.Summary.FieldSize < f.MinRunners {
		return false
	}
	if f.MaxRunners > 0 && e.Summary.FieldSize > f.MaxRunners {
		return false
	}
	rt := strings.ToLower(e.Summary.RaceType)
	for _, ex := range f.ExcludeTypes {
		ex = strings.ToLower(strings.TrimSpace(ex))
		if ex != "" && rt != "" && strings.Contains(rt, ex) {
			return false
		}
	}
	return true
}

// order sorts entries already in score order. Ties keep score order.
func (f Filter) order(entries []Entry) {
	switch f.Sort {
	case SortTime:
		sort.SliceStable(entries, func(i, j int) bool {
			a, b := entries[i].Summary.ScheduledTime, entries[j].Summary.ScheduledTime
			if a.IsZero() != b.IsZero() {
				return b.IsZero()
			}
			return a.Before(b)
		})
	case SortFieldSize:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Summary.FieldSize < entries[j].Summary.FieldSize
		})
	case SortVenue:
		sort.SliceStable(entries, func(i, j int) bool {
			return strings.ToLower(entries[i].Summary.Venue) < strings.ToLower(entries[j].Summary.Venue)
		})
	}
}

// Package model contains domain models passed between layers.
package model

import (
	"crypto/sha1" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Race-level field names understood by the merge engine.
const (
	FieldVenue         = "venue"
	FieldScheduledTime = "scheduled_time"
	FieldRaceType      = "race_type"
	FieldRaceNumber    = "race_number"
	FieldDistance      = "distance"
	FieldGoing         = "going"
	FieldURL           = "url"
)

// Runner-level field names understood by the merge engine.
const (
	FieldOdds          = "odds"
	FieldStartingPrice = "starting_price"
	FieldScratched     = "scratched"
	FieldNumber        = "number"
	FieldJockey        = "jockey"
	FieldTrainer       = "trainer"
	FieldTrainerForm   = "trainer_form"
	FieldJockeyUplift  = "jockey_uplift"
)

// RawField is one value as reported by a source, with the quality the
// source declared for it.
type RawField struct {
	Value      string    `json:"value" validate:"required"`
	Tier       Tier      `json:"tier"`
	ObservedAt time.Time `json:"observed_at,omitempty"`
}

// RawRunner is one runner line of a RawDocument.
type RawRunner struct {
	Name   string              `json:"name" validate:"required"`
	Fields map[string]RawField `json:"fields,omitempty" validate:"dive"`
}

// RawDocument is one observation of a race from one source at one time.
// Documents are never mutated once built; later documents supersede them.
type RawDocument struct {
	SourceID   string              `json:"source_id"`
	RaceKey    string              `json:"race_key"`
	CapturedAt time.Time           `json:"captured_at"`
	Fields     map[string]RawField `json:"fields,omitempty" validate:"dive"`
	Runners    []RawRunner         `json:"runners,omitempty" validate:"dive"`
}

// Validate rejects documents the merge engine cannot place.
func (d RawDocument) Validate() error {
	if strings.TrimSpace(d.RaceKey) == "" {
		return fmt.Errorf("%w: missing race_key", ErrMalformedDocument)
	}
	for i, r := range d.Runners {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("%w: runner %d has no name", ErrMalformedDocument, i)
		}
	}
	return nil
}

// ObservedAt resolves when a field was observed, defaulting to the capture time.
func (d RawDocument) ObservedAt(f RawField) time.Time {
	if f.ObservedAt.IsZero() {
		return d.CapturedAt
	}
	return f.ObservedAt
}

// Fingerprint returns a stable digest of the document content. Two
// submissions with the same fingerprint carry identical information.
func (d RawDocument) Fingerprint() string {
	var b strings.Builder
	b.WriteString(d.SourceID)
	b.WriteByte('|')
	b.WriteString(d.RaceKey)
	b.WriteByte('|')
	b.WriteString(d.CapturedAt.UTC().Format(time.RFC3339Nano))
	writeFields(&b, d.Fields)
	for _, r := range d.Runners {
		b.WriteString("|runner:")
		b.WriteString(r.Name)
		writeFields(&b, r.Fields)
	}
	sum := sha1.Sum([]byte(b.String())) //nolint:gosec // fingerprint only
	return hex.EncodeToString(sum[:])
}

func writeFields(b *strings.Builder, fields map[string]RawField) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := fields[name]
		fmt.Fprintf(b, "|%s=%s@%s/%s", name, f.Value, f.Tier, f.ObservedAt.UTC().Format(time.RFC3339Nano))
	}
}

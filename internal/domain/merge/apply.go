package merge

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/normalize"
)

// merger applies one document to one record. It is used under the engine
// write lock and never outlives the Ingest call.
type merger struct {
	rec *model.RaceRecord
	doc model.RawDocument

	applied        []string
	discarded      []string
	runnersCreated int
	observations   []model.Observation
}

func newMerger(rec *model.RaceRecord, doc model.RawDocument) *merger {
	return &merger{rec: rec, doc: doc}
}

func (m *merger) changed() bool {
	return len(m.applied) > 0 || m.runnersCreated > 0
}

// wins reports whether candidate replaces current: higher tier, or equal
// tier and strictly newer.
func wins(current model.FieldConfidence, exists bool, candidate model.FieldConfidence) bool {
	if !exists {
		return true
	}
	if candidate.Tier != current.Tier {
		return candidate.Tier > current.Tier
	}
	return candidate.ObservedAt.After(current.ObservedAt)
}

func (m *merger) candidate(name, value string, raw model.RawField) model.FieldConfidence {
	return model.FieldConfidence{
		Field:      name,
		Value:      value,
		Tier:       raw.Tier,
		SourceID:   m.doc.SourceID,
		ObservedAt: m.doc.ObservedAt(raw),
	}
}

func (m *merger) run() {
	if m.rec.Fields == nil {
		m.rec.Fields = make(map[string]model.FieldConfidence)
	}
	for _, name := range sortedNames(m.doc.Fields) {
		raw := m.doc.Fields[name]
		value := raceFieldValue(name, raw.Value)
		if value == "" {
			continue
		}
		cand := m.candidate(name, value, raw)
		current, exists := m.rec.Fields[name]
		ok := wins(current, exists, cand)
		m.observe("", cand, ok, name)
		if !ok {
			continue
		}
		m.rec.Fields[name] = cand
		m.deriveRaceColumn(cand)
	}
	for _, rr := range m.doc.Runners {
		m.mergeRunner(rr)
	}
}

func raceFieldValue(name, value string) string {
	value = strings.TrimSpace(value)
	if name == model.FieldRaceType {
		return normalize.RaceType(value)
	}
	return value
}

func (m *merger) deriveRaceColumn(f model.FieldConfidence) {
	switch f.Field {
	case model.FieldVenue:
		m.rec.Venue = f.Value
	case model.FieldScheduledTime:
		if t, err := time.Parse(time.RFC3339, f.Value); err == nil {
			m.rec.ScheduledTime = t
		}
	}
}

func (m *merger) runner(name string) *model.RunnerRecord {
	id := normalize.RunnerKey(name)
	for i := range m.rec.Runners {
		if m.rec.Runners[i].ID == id {
			return &m.rec.Runners[i]
		}
	}
	m.rec.Runners = append(m.rec.Runners, model.RunnerRecord{
		ID:     id,
		Name:   strings.Join(strings.Fields(name), " "),
		Fields: make(map[string]model.FieldConfidence),
	})
	m.runnersCreated++
	return &m.rec.Runners[len(m.rec.Runners)-1]
}

func (m *merger) mergeRunner(rr model.RawRunner) {
	r := m.runner(rr.Name)
	if r.Fields == nil {
		r.Fields = make(map[string]model.FieldConfidence)
	}
	for _, name := range sortedNames(rr.Fields) {
		raw := rr.Fields[name]
		switch name {
		case model.FieldOdds:
			m.mergeOdds(r, raw)
		case model.FieldStartingPrice:
			if raw.Tier > model.TierStartingPrice {
				raw.Tier = model.TierStartingPrice
			}
			m.mergeOdds(r, raw)
		case model.FieldScratched:
			if v, ok := parseScratched(raw.Value); ok {
				m.applyRunnerField(r, m.candidate(name, strconv.FormatBool(v), raw))
			}
		default:
			if v := strings.TrimSpace(raw.Value); v != "" {
				m.applyRunnerField(r, m.candidate(name, v, raw))
			}
		}
	}
}

// mergeOdds records every parsed price in the history and lets the odds
// field follow the usual tier rule. Non-runner markers assert scratched.
// Starting prices arrive capped at TierStartingPrice, so they only fill
// the odds field when nothing better is known.
func (m *merger) mergeOdds(r *model.RunnerRecord, raw model.RawField) {
	dec, ok, scratched := normalize.ParseOdds(raw.Value)
	if scratched {
		m.applyRunnerField(r, m.candidate(model.FieldScratched, "true", raw))
		return
	}
	if !ok {
		return
	}
	cand := m.candidate(model.FieldOdds, strconv.FormatFloat(dec, 'f', -1, 64), raw)
	r.OddsHistory = append(r.OddsHistory, model.OddsPoint{
		At:       cand.ObservedAt,
		Odds:     dec,
		Tier:     cand.Tier,
		SourceID: cand.SourceID,
	})
	if m.applyRunnerField(r, cand) {
		r.CurrentOdds = dec
		r.OddsTier = cand.Tier
	}
}

func (m *merger) applyRunnerField(r *model.RunnerRecord, cand model.FieldConfidence) bool {
	current, exists := r.Fields[cand.Field]
	ok := wins(current, exists, cand)
	m.observe(r.ID, cand, ok, "runner/"+r.ID+"/"+cand.Field)
	if !ok {
		return false
	}
	r.Fields[cand.Field] = cand
	if cand.Field == model.FieldScratched {
		r.Scratched = cand.Value == "true"
	}
	return true
}

func (m *merger) observe(runner string, f model.FieldConfidence, applied bool, path string) {
	if applied {
		m.applied = append(m.applied, path)
	} else {
		m.discarded = append(m.discarded, path)
	}
	m.observations = append(m.observations, model.Observation{
		RaceKey:    m.rec.RaceKey,
		Runner:     runner,
		Field:      f.Field,
		Value:      f.Value,
		Tier:       f.Tier,
		SourceID:   f.SourceID,
		ObservedAt: f.ObservedAt,
		Applied:    applied,
	})
}

func parseScratched(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "nr", "scr", "scratched", "yes", "y":
		return true, true
	case "no", "n", "":
		return false, strings.TrimSpace(v) != ""
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return b, err == nil
}

func sortedNames(fields map[string]model.RawField) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

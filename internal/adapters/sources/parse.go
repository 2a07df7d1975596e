package sources

import (
	"strconv"
	"strings"
	"time"

	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/normalize"
)

// Meta describes where a payload came from.
type Meta struct {
	SourceID   string
	Tier       model.Tier
	Day        time.Time
	CapturedAt time.Time
	Location   *time.Location
}

// Parser turns a payload into documents, one per race.
type Parser interface {
	Parse(data []byte, meta Meta) ([]model.RawDocument, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(data []byte, meta Meta) ([]model.RawDocument, error)

// Parse calls f.
func (f ParserFunc) Parse(data []byte, meta Meta) ([]model.RawDocument, error) {
	return f(data, meta)
}

// card is the source-neutral shape every parser fills in.
type card struct {
	Venue    string
	Number   int
	PostTime string
	RaceType string
	URL      string
	Distance string
	Going    string
	Runners  []cardRunner
}

type cardRunner struct {
	Name    string
	Number  string
	Odds    string
	SP      string
	Jockey  string
	Trainer string
}

// document builds the RawDocument of c. Races without a number fall back
// to a key derived from the post time.
func (c card) document(meta Meta) (model.RawDocument, bool) {
	venue := strings.TrimSpace(c.Venue)
	if venue == "" {
		return model.RawDocument{}, false
	}
	day := meta.Day
	if day.IsZero() {
		day = meta.CapturedAt
	}
	var key string
	switch {
	case c.Number > 0:
		key = normalize.RaceKey(venue, day, c.Number)
	case c.PostTime != "":
		key = normalize.TrackKey(venue) + "::" + normalize.Day(day) + "::" + normalize.RaceID(venue, day, c.PostTime)
	default:
		return model.RawDocument{}, false
	}

	field := func(v string) model.RawField {
		return model.RawField{Value: strings.TrimSpace(v), Tier: meta.Tier}
	}
	fields := map[string]model.RawField{model.FieldVenue: field(venue)}
	set := func(name, v string) {
		if strings.TrimSpace(v) != "" {
			fields[name] = field(v)
		}
	}
	if c.Number > 0 {
		set(model.FieldRaceNumber, strconv.Itoa(c.Number))
	}
	if t, ok := normalize.ParsePostTime(day, c.PostTime, meta.Location); ok {
		set(model.FieldScheduledTime, t.Format(time.RFC3339))
	}
	set(model.FieldRaceType, c.RaceType)
	set(model.FieldURL, c.URL)
	set(model.FieldDistance, c.Distance)
	set(model.FieldGoing, c.Going)

	doc := model.RawDocument{
		SourceID:   meta.SourceID,
		RaceKey:    key,
		CapturedAt: meta.CapturedAt,
		Fields:     fields,
	}
	for _, r := range c.Runners {
		name := strings.Join(strings.Fields(r.Name), " ")
		if name == "" {
			continue
		}
		rf := map[string]model.RawField{}
		odds := strings.TrimSpace(r.Odds)
		if price, ok := normalize.StartingPrice(odds); ok {
			rf[model.FieldStartingPrice] = startingPrice(field(price))
		} else if odds != "" && !strings.EqualFold(odds, "SP") {
			rf[model.FieldOdds] = field(odds)
		}
		if sp := strings.TrimSpace(r.SP); sp != "" {
			if price, ok := normalize.StartingPrice(sp); ok {
				sp = price
			}
			if _, ok, _ := normalize.ParseOdds(sp); ok {
				rf[model.FieldStartingPrice] = startingPrice(field(sp))
			}
		}
		for name, v := range map[string]string{
			model.FieldNumber:  r.Number,
			model.FieldJockey:  r.Jockey,
			model.FieldTrainer: r.Trainer,
		} {
			if strings.TrimSpace(v) != "" {
				rf[name] = field(v)
			}
		}
		doc.Runners = append(doc.Runners, model.RawRunner{Name: name, Fields: rf})
	}
	return doc, true
}

// startingPrice caps f at TierStartingPrice: an SP is a settled fallback,
// never a live quote.
func startingPrice(f model.RawField) model.RawField {
	if f.Tier > model.TierStartingPrice {
		f.Tier = model.TierStartingPrice
	}
	return f
}

func documents(cards []card, meta Meta) []model.RawDocument {
	out := make([]model.RawDocument, 0, len(cards))
	for _, c := range cards {
		if doc, ok := c.document(meta); ok {
			out = append(out, doc)
		}
	}
	return out
}

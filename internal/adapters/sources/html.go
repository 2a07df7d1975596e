package sources

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/okian/paddock/internal/domain/model"
)

// Selectors locate race card parts in an HTML page.
type Selectors struct {
	Meeting   string `koanf:"meeting"`
	VenueAttr string `koanf:"venue_attr"`
	Race      string `koanf:"race"`
	Runner    string `koanf:"runner"`
	Name      string `koanf:"name"`
	Number    string `koanf:"number"`
	Odds      string `koanf:"odds"`
	SP        string `koanf:"sp"`
	Jockey    string `koanf:"jockey"`
	Trainer   string `koanf:"trainer"`
}

// DefaultSelectors match the generic race card markup:
//
//	<div class="meeting" data-venue="Ascot">
//	  <table class="race" data-race="1" data-time="13:30" data-type="Handicap">
//	    <tr class="runner"><td class="number">1</td><td class="name">Alpha</td><td class="odds">7/2</td><td class="sp">3/1</td></tr>
func DefaultSelectors() Selectors {
	return Selectors{
		Meeting:   ".meeting",
		VenueAttr: "data-venue",
		Race:      ".race",
		Runner:    ".runner",
		Name:      ".name",
		Number:    ".number",
		Odds:      ".odds",
		SP:        ".sp",
		Jockey:    ".jockey",
		Trainer:   ".trainer",
	}
}

func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	pick := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	return Selectors{
		Meeting:   pick(s.Meeting, d.Meeting),
		VenueAttr: pick(s.VenueAttr, d.VenueAttr),
		Race:      pick(s.Race, d.Race),
		Runner:    pick(s.Runner, d.Runner),
		Name:      pick(s.Name, d.Name),
		Number:    pick(s.Number, d.Number),
		Odds:      pick(s.Odds, d.Odds),
		SP:        pick(s.SP, d.SP),
		Jockey:    pick(s.Jockey, d.Jockey),
		Trainer:   pick(s.Trainer, d.Trainer),
	}
}

// HTMLTableParser extracts race cards with CSS selectors. Race attributes
// come from data-race, data-time, data-type, data-distance, data-going and
// data-url on the race element.
type HTMLTableParser struct {
	sel Selectors
}

// NewHTMLTableParser returns a parser; empty selectors take the defaults.
func NewHTMLTableParser(sel Selectors) *HTMLTableParser {
	return &HTMLTableParser{sel: sel.withDefaults()}
}

// Parse implements Parser.
func (p *HTMLTableParser) Parse(data []byte, meta Meta) ([]model.RawDocument, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: html: %w", ErrUnrecognized, err)
	}
	var cards []card
	doc.Find(p.sel.Meeting).Each(func(_ int, m *goquery.Selection) {
		venue := strings.TrimSpace(m.AttrOr(p.sel.VenueAttr, ""))
		m.Find(p.sel.Race).Each(func(_ int, r *goquery.Selection) {
			n, _ := strconv.Atoi(strings.TrimSpace(r.AttrOr("data-race", "")))
			c := card{
				Venue:    venue,
				Number:   n,
				PostTime: r.AttrOr("data-time", ""),
				RaceType: r.AttrOr("data-type", ""),
				URL:      r.AttrOr("data-url", ""),
				Distance: r.AttrOr("data-distance", ""),
				Going:    r.AttrOr("data-going", ""),
			}
			r.Find(p.sel.Runner).Each(func(_ int, row *goquery.Selection) {
				c.Runners = append(c.Runners, cardRunner{
					Name:    text(row, p.sel.Name),
					Number:  text(row, p.sel.Number),
					Odds:    oddsText(row, p.sel.Odds),
					SP:      oddsText(row, p.sel.SP),
					Jockey:  text(row, p.sel.Jockey),
					Trainer: text(row, p.sel.Trainer),
				})
			})
			cards = append(cards, c)
		})
	})
	return documents(cards, meta), nil
}

func text(s *goquery.Selection, selector string) string {
	return strings.TrimSpace(s.Find(selector).First().Text())
}

// oddsText prefers a data-price attribute over the visible text.
func oddsText(s *goquery.Selection, selector string) string {
	el := s.Find(selector).First()
	if v, ok := el.Attr("data-price"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(el.Text())
}

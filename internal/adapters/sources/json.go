package sources

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/paddock/internal/domain/model"
)

// feed is the JSON race card layout: meetings of races of runners.
type feed struct {
	Meetings []struct {
		Venue string `json:"venue"`
		Races []struct {
			Number   json.Number `json:"number"`
			Time     string      `json:"time"`
			Name     string      `json:"name"`
			URL      string      `json:"url"`
			Distance string      `json:"distance"`
			Going    string      `json:"going"`
			Runners  []struct {
				Name    string      `json:"name"`
				Number  json.Number `json:"number"`
				Odds    string      `json:"odds"`
				SP      string      `json:"sp"`
				Jockey  string      `json:"jockey"`
				Trainer string      `json:"trainer"`
			} `json:"runners"`
		} `json:"races"`
	} `json:"meetings"`
}

// JSONParser reads {"meetings":[{"venue","races":[{"number","time","name","runners":[...]}]}]}.
type JSONParser struct{}

// Parse implements Parser.
func (JSONParser) Parse(data []byte, meta Meta) ([]model.RawDocument, error) {
	var f feed
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: json: %w", ErrUnrecognized, err)
	}
	var cards []card
	for _, m := range f.Meetings {
		for _, r := range m.Races {
			n, _ := strconv.Atoi(strings.TrimSpace(r.Number.String()))
			c := card{
				Venue:    m.Venue,
				Number:   n,
				PostTime: r.Time,
				RaceType: r.Name,
				URL:      r.URL,
				Distance: r.Distance,
				Going:    r.Going,
			}
			for _, rr := range r.Runners {
				c.Runners = append(c.Runners, cardRunner{
					Name:    rr.Name,
					Number:  rr.Number.String(),
					Odds:    rr.Odds,
					SP:      rr.SP,
					Jockey:  rr.Jockey,
					Trainer: rr.Trainer,
				})
			}
			cards = append(cards, c)
		}
	}
	return documents(cards, meta), nil
}

package sources

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/paddock/internal/domain/model"
)

// Source kinds understood by Build.
const (
	KindHTML = "html"
	KindJSON = "json"
	KindText = "text"
)

// Spec declares one source.
type Spec struct {
	ID        string
	Kind      string
	URL       string
	Tier      model.Tier
	Timezone  string
	Selectors Selectors
}

// FetchAdapter fetches a URL and parses the payload.
type FetchAdapter struct {
	id      string
	url     string
	tier    model.Tier
	loc     *time.Location
	parser  Parser
	fetcher *Fetcher
	clock   func() time.Time
}

// NewFetchAdapter returns an adapter for one URL.
func NewFetchAdapter(id, url string, tier model.Tier, loc *time.Location, parser Parser, fetcher *Fetcher) *FetchAdapter {
	if loc == nil {
		loc = time.UTC
	}
	return &FetchAdapter{
		id:      id,
		url:     url,
		tier:    tier,
		loc:     loc,
		parser:  parser,
		fetcher: fetcher,
		clock:   time.Now,
	}
}

// ID implements Adapter.
func (a *FetchAdapter) ID() string { return a.id }

// Fetch implements Adapter.
func (a *FetchAdapter) Fetch(ctx context.Context) ([]model.RawDocument, error) {
	data, err := a.fetcher.Get(ctx, a.id, a.url)
	if err != nil {
		return nil, err
	}
	now := a.clock().In(a.loc)
	docs, err := a.parser.Parse(data, Meta{
		SourceID:   a.id,
		Tier:       a.tier,
		Day:        now,
		CapturedAt: now.UTC(),
		Location:   a.loc,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.id, err)
	}
	return docs, nil
}

// ParserFor returns the parser of a kind.
func ParserFor(kind string, sel Selectors) (Parser, error) {
	switch strings.ToLower(kind) {
	case KindHTML:
		return NewHTMLTableParser(sel), nil
	case KindJSON:
		return JSONParser{}, nil
	case KindText:
		return TextParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Build registers one FetchAdapter per spec.
func Build(specs []Spec, fetcher *Fetcher) (*Registry, error) {
	reg, _ := NewRegistry()
	for _, s := range specs {
		parser, err := ParserFor(s.Kind, s.Selectors)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", s.ID, err)
		}
		loc := time.UTC
		if s.Timezone != "" {
			l, err := time.LoadLocation(s.Timezone)
			if err != nil {
				return nil, fmt.Errorf("source %s: timezone: %w", s.ID, err)
			}
			loc = l
		}
		if err := reg.Register(NewFetchAdapter(s.ID, s.URL, s.Tier, loc, parser, fetcher)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Detect guesses the parser for a pasted payload.
func Detect(data []byte) Parser {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '{':
		return JSONParser{}
	case bytes.HasPrefix(trimmed, []byte("<")):
		return NewHTMLTableParser(Selectors{})
	default:
		return TextParser{}
	}
}

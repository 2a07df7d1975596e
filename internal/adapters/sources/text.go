package sources

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/normalize"
)

var (
	reRaceLine   = regexp.MustCompile(`(?i)^race\s+(\d+)\b\s*(?:[-:]\s*)?(\d{1,2}[:.]\d{2}\s*(?:[ap]m)?)?\s*(.*)$`)
	reRunnerLine = regexp.MustCompile(`^(\d+)[.)]?\s+(.+?)\s+(\S+)$`)
	reRunnerSP   = regexp.MustCompile(`(?i)^(\d+)[.)]?\s+(.+?)(?:\s+(\S+))?\s+SP\s*[:=]?\s*(\S+)$`)
	reDay        = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
)

// TextParser reads pasted race cards:
//
//	Ascot 2026-10-18
//	Race 1 13:30 Handicap
//	1 Alpha 7/2
//	2 Bravo EVS
//	3 Charlie NR
//	4 Delta 9/2 SP 4/1
//
// A line that is neither a race header nor a runner starts a new meeting.
// A yyyy-mm-dd on the meeting line overrides the default day.
type TextParser struct{}

// Parse implements Parser.
func (TextParser) Parse(data []byte, meta Meta) ([]model.RawDocument, error) {
	var (
		cards   []card
		venue   string
		current *card
		day     = meta.Day
		byDay   = map[int]time.Time{}
	)
	flush := func() {
		if current != nil {
			cards = append(cards, *current)
			byDay[len(cards)-1] = day
			current = nil
		}
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if m := reRaceLine.FindStringSubmatch(line); m != nil {
			flush()
			n, _ := strconv.Atoi(m[1])
			post := strings.Replace(strings.TrimSpace(m[2]), ".", ":", 1)
			current = &card{Venue: venue, Number: n, PostTime: post, RaceType: strings.TrimSpace(m[3])}
			continue
		}
		if current != nil {
			if r, ok := spRunner(line); ok {
				current.Runners = append(current.Runners, r)
				continue
			}
			if m := reRunnerLine.FindStringSubmatch(line); m != nil && looksLikeOdds(m[3]) {
				current.Runners = append(current.Runners, cardRunner{Number: m[1], Name: m[2], Odds: m[3]})
				continue
			}
		}
		flush()
		venue = line
		if m := reDay.FindStringSubmatch(line); m != nil {
			if d, err := time.Parse("2006-01-02", m[1]); err == nil {
				day = d
			}
			venue = strings.TrimSpace(reDay.ReplaceAllString(line, ""))
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: text: %w", ErrUnrecognized, err)
	}

	out := make([]model.RawDocument, 0, len(cards))
	for i, c := range cards {
		m := meta
		m.Day = byDay[i]
		if doc, ok := c.document(m); ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func looksLikeOdds(s string) bool {
	if _, ok, scratched := normalize.ParseOdds(s); ok || scratched {
		return true
	}
	switch strings.ToUpper(s) {
	case "SP", "VOID":
		return true
	}
	return false
}

// spRunner reads "4 Delta 9/2 SP 4/1" and "4 Delta SP 4/1".
func spRunner(line string) (cardRunner, bool) {
	m := reRunnerSP.FindStringSubmatch(line)
	if m == nil {
		return cardRunner{}, false
	}
	if _, ok, _ := normalize.ParseOdds(m[4]); !ok {
		return cardRunner{}, false
	}
	r := cardRunner{Number: m[1], Name: m[2], SP: m[4]}
	switch {
	case m[3] == "":
	case looksLikeOdds(m[3]):
		r.Odds = m[3]
	default:
		r.Name += " " + m[3]
	}
	return r, true
}

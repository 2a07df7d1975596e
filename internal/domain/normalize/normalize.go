// Package normalize turns the many spellings sources use for venues, runners,
// odds and times into canonical keys and values.
package normalize

import (
	"crypto/sha1" //nolint:gosec // identifier digest only
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// UnknownTrack is the track key used when a venue name is empty.
const UnknownTrack = "unknown_track"

const dayLayout = "2006-01-02"

var (
	reAtSuffix    = regexp.MustCompile(` at .*$`)
	reParenthetic = regexp.MustCompile(`\s*\([^)]*\)`)
	reNonDigit    = regexp.MustCompile(`\D`)
	rePostTime    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*([AaPp][Mm])?\b`)
	reSPPrefix    = regexp.MustCompile(`(?i)^SP\s*[:=]?\s*(\S.*)$`)

	courseNoise = []string{"park", "raceway", "racecourse", "track", "stadium", "greyhound", "harness"}
)

// RunnerKey is the identity of a runner within a race.
func RunnerKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Course cleans a racecourse name: "Belmont Park at Aqueduct" -> "belmont".
func Course(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ""
	}
	n = reAtSuffix.ReplaceAllString(n, "")
	n = reParenthetic.ReplaceAllString(n, "")
	for _, w := range courseNoise {
		n = strings.ReplaceAll(n, w, "")
	}
	return strings.Join(strings.Fields(n), " ")
}

// TrackKey returns a URL-safe key for a venue.
func TrackKey(name string) string {
	c := Course(name)
	if c == "" {
		return UnknownTrack
	}
	return strings.ReplaceAll(c, " ", "_")
}

// RaceKey builds the canonical race key <track>::<yyyy-mm-dd>::rNN.
func RaceKey(venue string, day time.Time, raceNumber int) string {
	return fmt.Sprintf("%s::%s::r%02d", TrackKey(venue), day.Format(dayLayout), raceNumber)
}

// RaceID derives a stable id for sources that publish post times but no
// race numbers.
func RaceID(course string, day time.Time, postTime string) string {
	key := Course(course) + "|" + day.Format(dayLayout) + "|" + reNonDigit.ReplaceAllString(postTime, "")
	sum := sha1.Sum([]byte(key)) //nolint:gosec // identifier digest only
	return hex.EncodeToString(sum[:])[:12]
}

// ParseOdds converts fractional ("7/2", "7-2"), evens and decimal notations
// to decimal odds. ok is false when no price is available; scratched is set
// for non-runner markers.
func ParseOdds(s string) (decimal float64, ok, scratched bool) {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch v {
	case "":
		return 0, false, false
	case "SP", "VOID":
		return 0, false, false
	case "NR", "SCR":
		return 0, false, true
	case "EVS", "EVENS", "EVEN":
		return 2.0, true, false
	}
	if i := strings.IndexAny(v, "/-"); i > 0 {
		num, err1 := strconv.ParseFloat(strings.TrimSpace(v[:i]), 64)
		den, err2 := strconv.ParseFloat(strings.TrimSpace(v[i+1:]), 64)
		if err1 != nil || err2 != nil || !finite(num) || !finite(den) || den <= 0 || num < 0 {
			return 0, false, false
		}
		dec := 1 + num/den
		if !finite(dec) {
			return 0, false, false
		}
		return dec, true, false
	}
	dec, err := strconv.ParseFloat(v, 64)
	if err != nil || !finite(dec) || dec <= 1 {
		return 0, false, false
	}
	return dec, true, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// StartingPrice reads the "SP 7/2" form. It returns the price part when
// one follows the SP marker and parses as odds.
func StartingPrice(s string) (string, bool) {
	m := reSPPrefix.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	price := strings.TrimSpace(m[1])
	if _, ok, _ := ParseOdds(price); !ok {
		return "", false
	}
	return price, true
}

var raceTypes = []struct{ match, name string }{
	{"mdn clm", "Maiden Claiming"},
	{"maiden claiming", "Maiden Claiming"},
	{"mdn sp wt", "Maiden Special Weight"},
	{"maiden special weight", "Maiden Special Weight"},
	{"optional claiming", "Allowance Optional Claiming"},
	{"alw opt clm", "Allowance Optional Claiming"},
	{"clm", "Claiming"},
	{"claiming", "Claiming"},
	{"alw", "Allowance"},
	{"allowance", "Allowance"},
	{"stk", "Stakes"},
	{"stakes", "Stakes"},
	{"hcap", "Handicap"},
	{"handicap", "Handicap"},
}

// RaceType maps the abbreviations used on race cards to canonical names.
// Unrecognised types are title-cased.
func RaceType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "" {
		return ""
	}
	for _, rt := range raceTypes {
		if strings.Contains(t, rt.match) {
			return rt.name
		}
	}
	words := strings.Fields(t)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// ParsePostTime reads "7:30 PM" or "19:30" on the given day in loc.
func ParsePostTime(day time.Time, text string, loc *time.Location) (time.Time, bool) {
	m := rePostTime.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	switch strings.ToLower(m[3]) {
	case "pm":
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	y, mo, d := day.Date()
	return time.Date(y, mo, d, hour, minute, 0, 0, loc), true
}

// Day returns the calendar day of t formatted as yyyy-mm-dd.
func Day(t time.Time) string {
	return t.Format(dayLayout)
}

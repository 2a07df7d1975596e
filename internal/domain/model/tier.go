package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is the ordinal trust level of an observed field value. Higher tiers
// win merge conflicts. The zero value is TierUnknown so that records decoded
// from data without tier information default to the lowest trust.
type Tier int

const (
	TierUnknown Tier = iota
	TierEstimated
	TierStartingPrice
	TierKnownOdds
	TierObserved
)

var tierNames = [...]string{
	TierUnknown:       "unknown",
	TierEstimated:     "estimated",
	TierStartingPrice: "starting_price",
	TierKnownOdds:     "known_odds",
	TierObserved:      "observed",
}

// String returns the wire name of the tier.
func (t Tier) String() string {
	if t < TierUnknown || t > TierObserved {
		return tierNames[TierUnknown]
	}
	return tierNames[t]
}

// Valid reports whether t is one of the declared tiers.
func (t Tier) Valid() bool {
	return t >= TierUnknown && t <= TierObserved
}

// ParseTier parses a tier name. Matching is case-insensitive and accepts
// hyphens or spaces in place of underscores.
func ParseTier(s string) (Tier, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	if norm == "" {
		return TierUnknown, nil
	}
	for i, name := range tierNames {
		if name == norm {
			return Tier(i), nil
		}
	}
	return TierUnknown, fmt.Errorf("unknown confidence tier %q", s)
}

// MarshalJSON encodes the tier by name.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts a tier name or a legacy integer. Unrecognised values
// decode to TierUnknown rather than failing, so older or foreign snapshots
// stay readable.
func (t *Tier) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		parsed, perr := ParseTier(name)
		if perr != nil {
			parsed = TierUnknown
		}
		*t = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err == nil && Tier(n).Valid() {
		*t = Tier(n)
		return nil
	}
	*t = TierUnknown
	return nil
}

// MarshalText lets tiers be used as map keys and in YAML/koanf config.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name strictly; config must not silently
// downgrade a typo to unknown.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

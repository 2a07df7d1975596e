package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/okian/paddock/internal/domain/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field tags and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, c.Timezone, err)
		}
	}
	if _, err := model.ParseTier(c.PasteTier); err != nil {
		return fmt.Errorf("%w: paste_tier: %w", ErrInvalidConfig, err)
	}
	if c.Report.MaxRunners > 0 && c.Report.MinRunners > c.Report.MaxRunners {
		return fmt.Errorf("%w: report.min_runners %d exceeds max_runners %d",
			ErrInvalidConfig, c.Report.MinRunners, c.Report.MaxRunners)
	}

	for i, p := range c.TrackProfiles {
		if p.Match != strings.ToLower(p.Match) {
			return fmt.Errorf("%w: track_profiles[%d]: match %q must be lower case", ErrInvalidConfig, i, p.Match)
		}
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i, s := range c.Sources {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: sources[%d]: duplicate id %q", ErrInvalidConfig, i, s.ID)
		}
		seen[s.ID] = struct{}{}

		if s.Tier != "" {
			if _, err := model.ParseTier(s.Tier); err != nil {
				return fmt.Errorf("%w: sources[%d]: %w", ErrInvalidConfig, i, err)
			}
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return fmt.Errorf("%w: sources[%d]: timezone %q: %w", ErrInvalidConfig, i, s.Timezone, err)
			}
		}
	}
	return nil
}

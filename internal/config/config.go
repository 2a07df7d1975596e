// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Durations are configured in whole seconds or minutes, as the key says.
// - Load wraps every failure in ErrLoadConfig or ErrInvalidConfig.
package config

import (
	"context"
	"time"

	"github.com/okian/paddock/internal/adapters/sources"
	"github.com/okian/paddock/internal/domain/alert"
	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/scoring"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// DataDir holds the snapshot, alert state and journal.
	DataDir string `koanf:"data_dir" validate:"required"`

	// Timezone is the IANA zone race times are read in.
	Timezone string `koanf:"timezone"`

	// Addr configures the desktop HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// QueueSize bounds the in-memory ingestion queue.
	QueueSize int `koanf:"queue_size" validate:"gt=0"`

	// DedupeSize sets how many fingerprints are remembered; 0 is unbounded.
	DedupeSize int `koanf:"dedupe_size" validate:"gte=0"`

	// MaxReportLimit caps GET /races?limit.
	MaxReportLimit int `koanf:"max_report_limit" validate:"gt=0"`

	// InboxDir is watched for dropped race cards. Empty disables it.
	InboxDir string `koanf:"inbox_dir"`

	// PasteTier is the tier given to pasted and dropped cards.
	PasteTier string `koanf:"paste_tier"`

	// PasteSentinel ends a block in `paddock paste`.
	PasteSentinel string `koanf:"paste_sentinel" validate:"required"`

	Snapshot SnapshotConfig `koanf:"snapshot"`
	Journal  JournalConfig  `koanf:"journal"`
	Report   ReportConfig   `koanf:"report"`

	// Weights maps signal names to weights. Keys merge over the defaults.
	Weights map[string]float64 `koanf:"weights" validate:"dive,keys,required,endkeys,gte=0"`

	// TrackProfiles override weights for matching venues.
	TrackProfiles []model.TrackProfile `koanf:"track_profiles" validate:"dive"`

	// ReasonThreshold hides contributions at or below it from reasons.
	ReasonThreshold float64 `koanf:"reason_threshold" validate:"gte=0"`

	Signals SignalsConfig `koanf:"signals"`
	Alert   AlertConfig   `koanf:"alert"`
	Monitor MonitorConfig `koanf:"monitor"`
	Fetch   FetchConfig   `koanf:"fetch"`
	Notify  NotifyConfig  `koanf:"notify"`

	Sources []SourceConfig `koanf:"sources" validate:"dive"`
}

// SnapshotConfig sets when the merge store is written to disk.
type SnapshotConfig struct {
	Every           int `koanf:"every" validate:"gte=0"`
	IntervalSeconds int `koanf:"interval_seconds" validate:"gte=0"`
}

// JournalConfig controls the badger observation journal.
type JournalConfig struct {
	Enabled           bool `koanf:"enabled"`
	SyncWrites        bool `koanf:"sync_writes"`
	GCIntervalSeconds int  `koanf:"gc_interval_seconds" validate:"gte=0"`
}

// ReportConfig holds the default desktop report filters.
type ReportConfig struct {
	MinScore     float64  `koanf:"min_score"`
	MinRunners   int      `koanf:"min_runners" validate:"gte=0"`
	MaxRunners   int      `koanf:"max_runners" validate:"gte=0"`
	ExcludeTypes []string `koanf:"exclude_types"`
	Sort         string   `koanf:"sort" validate:"omitempty,oneof=score time field_size venue"`
	Limit        int      `koanf:"limit" validate:"gte=0"`
}

// SignalsConfig tunes the built-in signals.
type SignalsConfig struct {
	SteamWindowMinutes int     `koanf:"steam_window_minutes" validate:"gt=0"`
	MinShortening      float64 `koanf:"min_shortening" validate:"gte=0,lt=1"`
}

// AlertConfig holds the mobile alert rule.
type AlertConfig struct {
	CooldownMinutes      int     `koanf:"cooldown_minutes" validate:"gte=0"`
	SignalThresh         float64 `koanf:"signal_thresh" validate:"gte=0"`
	MinSignalsOverThresh int     `koanf:"min_signals_over_thresh" validate:"gte=0"`
	MinimumScoreToAlert  float64 `koanf:"minimum_score_to_alert"`
}

// MonitorConfig controls the mobile loop.
type MonitorConfig struct {
	CheckIntervalSeconds int `koanf:"check_interval" validate:"gt=0"`
	FetchConcurrency     int `koanf:"fetch_concurrency" validate:"gt=0"`
}

// FetchConfig tunes the resilient fetcher.
type FetchConfig struct {
	TimeoutSeconds     int     `koanf:"timeout_seconds" validate:"gt=0"`
	RateLimitRPS       float64 `koanf:"rate_limit_rps" validate:"gte=0"`
	Burst              int     `koanf:"burst" validate:"gte=0"`
	MaxRetries         int     `koanf:"max_retries" validate:"gte=0"`
	BreakerFailures    int     `koanf:"breaker_failures" validate:"gte=0"`
	BreakerOpenSeconds int     `koanf:"breaker_open_seconds" validate:"gte=0"`
	UserAgent          string  `koanf:"user_agent"`
}

// NotifyConfig selects alert transports. The log notifier is always on.
type NotifyConfig struct {
	Command        string   `koanf:"command"`
	Args           []string `koanf:"args"`
	Termux         bool     `koanf:"termux"`
	WebhookURL     string   `koanf:"webhook_url" validate:"omitempty,url"`
	TimeoutSeconds int      `koanf:"timeout_seconds" validate:"gt=0"`
}

// SourceConfig declares one source for the mobile loop.
type SourceConfig struct {
	ID        string            `koanf:"id" validate:"required"`
	Kind      string            `koanf:"kind" validate:"oneof=html json text"`
	URL       string            `koanf:"url" validate:"required"`
	Tier      string            `koanf:"tier"`
	Timezone  string            `koanf:"timezone"`
	Selectors sources.Selectors `koanf:"selectors"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:       "info",
		LogFormat:      "text",
		DataDir:        "data",
		Addr:           ":9080",
		QueueSize:      1024,
		DedupeSize:     50_000,
		MaxReportLimit: 500,
		PasteTier:      model.TierKnownOdds.String(),
		PasteSentinel:  "END",
		Snapshot:       SnapshotConfig{Every: 25, IntervalSeconds: 30},
		Journal:        JournalConfig{Enabled: true, SyncWrites: true, GCIntervalSeconds: 300},
		Report:         ReportConfig{Sort: "score", Limit: 50},
		Weights:        scoring.DefaultWeights(),
		TrackProfiles:  scoring.DefaultProfiles(),

		ReasonThreshold: 0.01,

		Signals: SignalsConfig{SteamWindowMinutes: 30, MinShortening: 0.05},
		Alert: AlertConfig{
			CooldownMinutes:      30,
			SignalThresh:         0.6,
			MinSignalsOverThresh: 2,
			MinimumScoreToAlert:  0.5,
		},
		Monitor: MonitorConfig{CheckIntervalSeconds: 900, FetchConcurrency: 4},
		Fetch: FetchConfig{
			TimeoutSeconds:     15,
			RateLimitRPS:       1,
			Burst:              2,
			MaxRetries:         4,
			BreakerFailures:    5,
			BreakerOpenSeconds: 60,
			UserAgent:          "paddock/1.0",
		},
		Notify: NotifyConfig{TimeoutSeconds: 10},
	}
}

// Location returns the configured timezone, or the local one.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Tier returns the parsed paste tier.
func (c *Config) Tier() model.Tier {
	t, err := model.ParseTier(c.PasteTier)
	if err != nil {
		return model.TierKnownOdds
	}
	return t
}

// AlertRule returns the alert thresholds.
func (c *Config) AlertRule() alert.Config {
	return alert.Config{
		SignalThresh:         c.Alert.SignalThresh,
		MinSignalsOverThresh: c.Alert.MinSignalsOverThresh,
		MinimumScore:         c.Alert.MinimumScoreToAlert,
		Cooldown:             time.Duration(c.Alert.CooldownMinutes) * time.Minute,
	}
}

// Seconds converts a whole-second setting.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Specs converts the source list for sources.Build.
func (c *Config) Specs() ([]sources.Spec, error) {
	out := make([]sources.Spec, 0, len(c.Sources))
	for _, s := range c.Sources {
		tier := model.TierKnownOdds
		if s.Tier != "" {
			t, err := model.ParseTier(s.Tier)
			if err != nil {
				return nil, err
			}
			tier = t
		}
		tz := s.Timezone
		if tz == "" {
			tz = c.Timezone
		}
		out = append(out, sources.Spec{
			ID:        s.ID,
			Kind:      s.Kind,
			URL:       s.URL,
			Tier:      tier,
			Timezone:  tz,
			Selectors: s.Selectors,
		})
	}
	return out, nil
}

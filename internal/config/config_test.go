package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/paddock/internal/config"
	"github.com/okian/paddock/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
			convey.So(cfg.MaxReportLimit, convey.ShouldEqual, 500)
			convey.So(cfg.Monitor.CheckIntervalSeconds, convey.ShouldEqual, 900)
			convey.So(cfg.Weights["value_vs_sp"], convey.ShouldEqual, 0.35)
			convey.So(cfg.TrackProfiles, convey.ShouldNotBeEmpty)
			convey.So(cfg.Tier(), convey.ShouldEqual, model.TierKnownOdds)
		})

		convey.Convey("Then the defaults should validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then the alert rule converts minutes to a duration", func() {
			rule := cfg.AlertRule()
			convey.So(rule.Cooldown, convey.ShouldEqual, 30*time.Minute)
			convey.So(rule.SignalThresh, convey.ShouldEqual, 0.6)
			convey.So(rule.MinSignalsOverThresh, convey.ShouldEqual, 2)
		})
	})
}

func TestConfig_Location(t *testing.T) {
	convey.Convey("Given a configured timezone", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("When it is empty it should fall back to local time", func() {
			convey.So(cfg.Location(), convey.ShouldEqual, time.Local)
		})

		convey.Convey("When it names a zone it should load it", func() {
			cfg.Timezone = "Europe/London"
			convey.So(cfg.Location().String(), convey.ShouldEqual, "Europe/London")
		})
	})
}

func TestConfig_Specs(t *testing.T) {
	convey.Convey("Given configured sources", t, func() {
		cfg := config.New(context.Background())
		cfg.Timezone = "Europe/London"
		cfg.Sources = []config.SourceConfig{
			{ID: "cards", Kind: "html", URL: "https://example.test/cards"},
			{ID: "sp", Kind: "json", URL: "file:///tmp/sp.json", Tier: "starting_price", Timezone: "UTC"},
		}

		specs, err := cfg.Specs()

		convey.Convey("Then tiers and timezones should be resolved", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(specs, convey.ShouldHaveLength, 2)
			convey.So(specs[0].Tier, convey.ShouldEqual, model.TierKnownOdds)
			convey.So(specs[0].Timezone, convey.ShouldEqual, "Europe/London")
			convey.So(specs[1].Tier, convey.ShouldEqual, model.TierStartingPrice)
			convey.So(specs[1].Timezone, convey.ShouldEqual, "UTC")
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a config with an invalid value", t, func() {
		ctx := context.Background()

		cases := map[string]func(*config.Config){
			"negative weight":      func(c *config.Config) { c.Weights["steam_move"] = -1 },
			"unknown paste tier":   func(c *config.Config) { c.PasteTier = "rumour" },
			"bad timezone":         func(c *config.Config) { c.Timezone = "Mars/Olympus" },
			"zero queue":           func(c *config.Config) { c.QueueSize = 0 },
			"bad log format":       func(c *config.Config) { c.LogFormat = "xml" },
			"upper case profile":   func(c *config.Config) { c.TrackProfiles = []model.TrackProfile{{Match: "Ascot"}} },
			"inverted field range": func(c *config.Config) { c.Report.MinRunners, c.Report.MaxRunners = 12, 6 },
			"unknown source kind": func(c *config.Config) {
				c.Sources = []config.SourceConfig{{ID: "a", Kind: "xml", URL: "x"}}
			},
			"duplicate source id": func(c *config.Config) {
				c.Sources = []config.SourceConfig{
					{ID: "a", Kind: "html", URL: "x"},
					{ID: "a", Kind: "json", URL: "y"},
				}
			},
		}

		for name, mutate := range cases {
			convey.Convey("When it has a "+name, func() {
				cfg := config.New(ctx)
				mutate(cfg)
				err := cfg.Validate()

				convey.Convey("Then validation should fail with ErrInvalidConfig", func() {
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}
	})
}

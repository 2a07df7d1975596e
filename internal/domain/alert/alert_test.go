package alert_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/paddock/internal/domain/alert"
	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/scoring"
	"github.com/okian/paddock/internal/domain/signals"
	"github.com/okian/paddock/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, raceKey string, _ float64, _ []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.calls = append(n.calls, raceKey)
	return nil
}

type memStore struct {
	mu     sync.Mutex
	saved  map[string]model.AlertState
	saves  int
	err    error
	loaded map[string]model.AlertState
}

func (s *memStore) Load(context.Context) (map[string]model.AlertState, error) {
	if s.loaded == nil {
		return nil, errors.New("no state")
	}
	return s.loaded, nil
}

func (s *memStore) Save(_ context.Context, states map[string]model.AlertState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.err != nil {
		return s.err
	}
	s.saved = states
	return nil
}

var start = time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC)

func cfg() alert.Config {
	return alert.Config{
		SignalThresh:         0.6,
		MinSignalsOverThresh: 2,
		MinimumScore:         5.0,
		Cooldown:             30 * time.Minute,
	}
}

func eligible() model.ScoreResult {
	return model.ScoreResult{
		RaceKey:    "ascot::2026-10-18::r03",
		TotalScore: 6.0,
		Signals: map[string]float64{
			"overlay_confidence": 0.7,
			"steam_move":         0.65,
			"market_consensus":   0.3,
		},
		Reasons: []string{"steam_move contributed 0.163 (weight 0.250)"},
	}
}

func TestEvaluate_Cooldown(t *testing.T) {
	Convey("Given an alert engine with a 30 minute cooldown", t, func() {
		ctx := context.Background()
		notifier := &recordingNotifier{}
		store := &memStore{}
		engine := alert.NewEngine(cfg(), store, notifier)

		Convey("When an eligible race is evaluated", func() {
			d, err := engine.Evaluate(ctx, eligible(), start)

			Convey("Then exactly one alert is sent and persisted", func() {
				So(err, ShouldBeNil)
				So(d.Alerted, ShouldBeTrue)
				So(d.Active, ShouldEqual, 2)
				So(notifier.calls, ShouldHaveLength, 1)
				So(store.saved, ShouldContainKey, "ascot::2026-10-18::r03")

				st, ok := engine.State("ascot::2026-10-18::r03")
				So(ok, ShouldBeTrue)
				So(st.LastAlertAt, ShouldEqual, start)
				So(st.LastAlertedScore, ShouldEqual, 6.0)
			})

			Convey("And it is evaluated again 10 minutes later", func() {
				d, err := engine.Evaluate(ctx, eligible(), start.Add(10*time.Minute))

				Convey("Then the cooldown suppresses it", func() {
					So(err, ShouldBeNil)
					So(d.Alerted, ShouldBeFalse)
					So(d.Reason, ShouldEqual, alert.ReasonCooldown)
					So(notifier.calls, ShouldHaveLength, 1)
				})

				Convey("And again 31 minutes after the first alert", func() {
					d, err := engine.Evaluate(ctx, eligible(), start.Add(31*time.Minute))

					Convey("Then it alerts again", func() {
						So(err, ShouldBeNil)
						So(d.Alerted, ShouldBeTrue)
						So(notifier.calls, ShouldHaveLength, 2)
					})
				})
			})
		})
	})
}

func TestEvaluate_Eligibility(t *testing.T) {
	Convey("Given an alert engine", t, func() {
		ctx := context.Background()
		notifier := &recordingNotifier{}
		engine := alert.NewEngine(cfg(), nil, notifier)

		Convey("When the total is below the minimum", func() {
			r := eligible()
			r.TotalScore = 4.9
			d, err := engine.Evaluate(ctx, r, start)
			So(err, ShouldBeNil)
			So(d.Eligible, ShouldBeFalse)
			So(d.Reason, ShouldEqual, alert.ReasonLowScore)
		})

		Convey("When too few signals clear the threshold", func() {
			r := eligible()
			r.Signals["steam_move"] = 0.59
			d, _ := engine.Evaluate(ctx, r, start)
			So(d.Reason, ShouldEqual, alert.ReasonFewSignals)
			So(notifier.calls, ShouldBeEmpty)
		})

		Convey("When a race turns ineligible after alerting", func() {
			_, _ = engine.Evaluate(ctx, eligible(), start)
			low := eligible()
			low.TotalScore = 1
			_, _ = engine.Evaluate(ctx, low, start.Add(5*time.Minute))

			Convey("Then its state is kept and the cooldown still applies", func() {
				st, ok := engine.State(low.RaceKey)
				So(ok, ShouldBeTrue)
				So(st.LastAlertAt, ShouldEqual, start)

				d, _ := engine.Evaluate(ctx, eligible(), start.Add(20*time.Minute))
				So(d.Reason, ShouldEqual, alert.ReasonCooldown)
			})
		})

		Convey("When races are independent", func() {
			other := eligible()
			other.RaceKey = "kempton::2026-10-18::r01"
			_, _ = engine.Evaluate(ctx, eligible(), start)
			d, _ := engine.Evaluate(ctx, other, start.Add(time.Minute))
			So(d.Alerted, ShouldBeTrue)
			So(engine.States(), ShouldHaveLength, 2)
		})
	})
}

func TestEvaluate_Failures(t *testing.T) {
	Convey("Given failing collaborators", t, func() {
		ctx := context.Background()

		Convey("When the notifier fails", func() {
			notifier := &recordingNotifier{err: errors.New("no route")}
			engine := alert.NewEngine(cfg(), nil, notifier)
			d, err := engine.Evaluate(ctx, eligible(), start)

			Convey("Then the state is unchanged so the next cycle retries", func() {
				So(errors.Is(err, alert.ErrNotifyFailed), ShouldBeTrue)
				So(d.Alerted, ShouldBeFalse)
				_, ok := engine.State(eligible().RaceKey)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the state store fails", func() {
			store := &memStore{err: errors.New("read-only fs")}
			engine := alert.NewEngine(cfg(), store, &recordingNotifier{})
			d, err := engine.Evaluate(ctx, eligible(), start)

			Convey("Then the error is a persistence failure but the transition stands", func() {
				So(errors.Is(err, alert.ErrPersistenceFailure), ShouldBeTrue)
				So(d.Alerted, ShouldBeTrue)
				_, ok := engine.State(eligible().RaceKey)
				So(ok, ShouldBeTrue)
			})
		})
	})
}

func TestRestoreAndRotate(t *testing.T) {
	Convey("Given persisted alert state", t, func() {
		ctx := context.Background()
		store := &memStore{loaded: map[string]model.AlertState{
			"ascot::2026-10-18::r03": {RaceKey: "ascot::2026-10-18::r03", LastAlertAt: start, LastAlertedScore: 6},
		}}
		notifier := &recordingNotifier{}
		engine := alert.NewEngine(cfg(), store, notifier)
		So(engine.Restore(ctx), ShouldBeNil)

		Convey("Then the restored cooldown applies", func() {
			d, _ := engine.Evaluate(ctx, eligible(), start.Add(time.Minute))
			So(d.Reason, ShouldEqual, alert.ReasonCooldown)
		})

		Convey("When rotating to a new day", func() {
			So(engine.Rotate(ctx), ShouldBeNil)

			Convey("Then state is cleared and persisted empty", func() {
				_, ok := engine.State(eligible().RaceKey)
				So(ok, ShouldBeFalse)
				So(store.saved, ShouldBeEmpty)
			})
		})

		Convey("When the store cannot be read", func() {
			broken := alert.NewEngine(cfg(), &memStore{}, notifier)
			So(broken.Restore(ctx), ShouldBeNil)
			So(broken.States(), ShouldBeEmpty)
		})
	})
}

func pricedRace() model.RaceRecord {
	runner := func(id string, odds float64) model.RunnerRecord {
		return model.RunnerRecord{
			ID:          id,
			Name:        id,
			CurrentOdds: odds,
			OddsTier:    model.TierKnownOdds,
			OddsHistory: []model.OddsPoint{{At: start, Odds: odds, Tier: model.TierKnownOdds, SourceID: "card"}},
		}
	}
	return model.RaceRecord{
		RaceKey:  "york::2026-10-18::r02",
		Venue:    "York",
		Runners:  []model.RunnerRecord{runner("alpha", 1.5), runner("bravo", 2.5), runner("charlie", 4.0)},
		Revision: 1,
	}
}

func TestEvaluate_ReportedOnlySignals(t *testing.T) {
	Convey("Given a priced race scored with the default weights", t, func() {
		rec := pricedRace()
		values := signals.NewEngine().Compute(rec)
		result := scoring.NewEngine().Score(rec, values, nil)

		So(values[signals.Overround], ShouldBeGreaterThan, 1)
		So(result.Weighted, ShouldNotContain, signals.Overround)
		So(result.Weighted, ShouldContain, signals.OverlayConfidence)

		Convey("When three strong signals are required", func() {
			rule := alert.Config{SignalThresh: 0.6, MinSignalsOverThresh: 3, Cooldown: 30 * time.Minute}
			notifier := &recordingNotifier{}
			engine := alert.NewEngine(rule, nil, notifier)
			d, err := engine.Evaluate(context.Background(), result, start)

			Convey("Then overround is not counted as one of them", func() {
				So(err, ShouldBeNil)
				So(d.Active, ShouldEqual, 2)
				So(d.Eligible, ShouldBeFalse)
				So(d.Reason, ShouldEqual, alert.ReasonFewSignals)
				So(notifier.calls, ShouldBeEmpty)
			})
		})

		Convey("When only some signals are weighted", func() {
			r := eligible()
			r.Weighted = []string{"market_consensus", "overlay_confidence"}
			engine := alert.NewEngine(cfg(), nil, &recordingNotifier{})

			Convey("Then unweighted signals are ignored", func() {
				So(engine.ActiveSignals(r), ShouldEqual, 1)
			})
		})
	})
}

package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	service "github.com/okian/paddock/internal/app"
	"github.com/okian/paddock/internal/adapters/sources"
	"github.com/okian/paddock/internal/domain/alert"
	"github.com/okian/paddock/internal/domain/merge"
	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/scoring"
	"github.com/okian/paddock/internal/domain/signals"
	. "github.com/smartystreets/goconvey/convey"
)

type stubAdapter struct {
	id   string
	docs []model.RawDocument
	err  error
}

func (a stubAdapter) ID() string { return a.id }

func (a stubAdapter) Fetch(ctx context.Context) ([]model.RawDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.docs, a.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	races []string
	fail  error
}

func (n *recordingNotifier) Notify(_ context.Context, raceKey string, _ float64, _ []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.races = append(n.races, raceKey)
	return nil
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.races...)
}

func TestMonitor_Cycle(t *testing.T) {
	Convey("Given a monitor over two sources", t, func() {
		ctx := context.Background()
		at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

		reg, err := sources.NewRegistry(
			stubAdapter{id: "exchange", docs: []model.RawDocument{raceDoc("exchange", "5/2", model.TierObserved, at)}},
			stubAdapter{id: "broken", err: sources.ErrTransientFetch},
		)
		So(err, ShouldBeNil)

		notifier := &recordingNotifier{}
		alerts := alert.NewEngine(alert.Config{Cooldown: 30 * time.Minute}, nil, notifier)
		pipeline := newPipeline()
		mon := service.NewMonitor(reg, pipeline, alerts, service.WithFetchConcurrency(2))
		So(mon.Open(ctx), ShouldBeNil)

		Convey("When a cycle runs", func() {
			report, err := mon.Cycle(ctx)

			Convey("Then the healthy source should be merged and alerted", func() {
				So(err, ShouldBeNil)
				So(report.Sources, ShouldEqual, 2)
				So(report.Documents, ShouldEqual, 1)
				So(report.Changed, ShouldEqual, 1)
				So(report.Alerts, ShouldEqual, 1)
				So(notifier.sent(), ShouldResemble, []string{raceKey})
				So(mon.Cycles(), ShouldEqual, 1)
			})

			Convey("And the failing source should be isolated", func() {
				So(report.Errors, ShouldContainKey, "broken")
				So(report.Errors, ShouldNotContainKey, "exchange")
			})

			Convey("And the alert state should be recorded", func() {
				st, ok := alerts.State(raceKey)
				So(ok, ShouldBeTrue)
				So(st.LastAlertedScore, ShouldEqual, report.Decisions[0].Score)
			})
		})

		Convey("When the same data arrives again", func() {
			_, err := mon.Cycle(ctx)
			So(err, ShouldBeNil)
			report, err := mon.Cycle(ctx)

			Convey("Then nothing changes and no second alert is sent", func() {
				So(err, ShouldBeNil)
				So(report.Changed, ShouldEqual, 0)
				So(report.Alerts, ShouldEqual, 0)
				So(notifier.sent(), ShouldHaveLength, 1)
			})
		})

		Convey("When the notifier fails", func() {
			notifier.fail = errors.New("offline")
			report, err := mon.Cycle(ctx)

			Convey("Then the cycle completes and the state is untouched", func() {
				So(err, ShouldBeNil)
				So(report.Alerts, ShouldEqual, 0)
				So(report.Decisions[0].Reason, ShouldEqual, alert.ReasonNotifyFailed)
				_, ok := alerts.State(raceKey)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the context is cancelled before the merge phase", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := mon.Cycle(cctx)

			Convey("Then nothing should be merged", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(pipeline.Merge().Len(), ShouldEqual, 0)
				So(notifier.sent(), ShouldBeEmpty)
			})
		})

		Convey("When run until cancelled", func() {
			rctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			defer cancel()
			err := mon.Run(rctx)

			Convey("Then the first cycle should run immediately", func() {
				So(err, ShouldBeNil)
				So(mon.Cycles(), ShouldBeGreaterThanOrEqualTo, 1)
				So(mon.Close(ctx), ShouldBeNil)
			})
		})
	})
}

// brokenSnapshots never manages to write a snapshot.
type brokenSnapshots struct{}

func (brokenSnapshots) Save(context.Context, string, map[string]model.RaceRecord) error {
	return errors.New("read-only file system")
}

func (brokenSnapshots) Load(context.Context) (string, map[string]model.RaceRecord, error) {
	return "", nil, errors.New("no snapshot")
}

func TestMonitor_RotationWithFailingSnapshots(t *testing.T) {
	Convey("Given a monitor whose snapshot writes always fail", t, func() {
		ctx := context.Background()
		day1 := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
		day2 := day1.Add(24 * time.Hour)

		var mu sync.Mutex
		now := day1
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}

		reg, err := sources.NewRegistry(
			stubAdapter{id: "exchange", docs: []model.RawDocument{raceDoc("exchange", "5/2", model.TierObserved, day1)}},
		)
		So(err, ShouldBeNil)

		notifier := &recordingNotifier{}
		alerts := alert.NewEngine(alert.Config{Cooldown: 48 * time.Hour}, nil, notifier)
		merger := merge.NewEngine(
			merge.WithPersister(brokenSnapshots{}),
			merge.WithClock(clock),
			merge.WithSnapshotInterval(time.Hour))
		pipeline := service.NewPipeline(merger, signals.NewEngine(), scoring.NewEngine())
		mon := service.NewMonitor(reg, pipeline, alerts, service.WithMonitorClock(clock))
		So(mon.Open(ctx), ShouldBeNil)
		Reset(func() { _ = mon.Close(ctx) })

		first, err := mon.Cycle(ctx)
		So(err, ShouldBeNil)
		So(first.Alerts, ShouldEqual, 1)

		Convey("When the next cycle starts on a new day", func() {
			mu.Lock()
			now = day2
			mu.Unlock()
			report, err := mon.Cycle(ctx)

			Convey("Then the cycle still fetches and merges", func() {
				So(err, ShouldBeNil)
				So(report.Documents, ShouldEqual, 1)
				So(report.Changed, ShouldEqual, 1)
				So(merger.Day(), ShouldEqual, "2026-10-19")
			})

			Convey("And the alert state was rotated so the race can alert again", func() {
				So(report.Alerts, ShouldEqual, 1)
				So(notifier.sent(), ShouldHaveLength, 2)
				st, ok := alerts.State(raceKey)
				So(ok, ShouldBeTrue)
				So(st.LastAlertAt, ShouldEqual, day2)
			})

			Convey("And the unwritten snapshot stays pending for a retry", func() {
				So(merger.Dirty(), ShouldBeGreaterThan, 0)
				So(errors.Is(mon.Close(ctx), merge.ErrPersistenceFailure), ShouldBeTrue)
			})
		})
	})
}

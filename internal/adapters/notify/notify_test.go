package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"

	"github.com/google/uuid"
	"github.com/okian/paddock/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type recorder struct {
	calls int
	err   error
}

func (r *recorder) Notify(context.Context, string, float64, []string) error {
	r.calls++
	return r.err
}

func TestTitle(t *testing.T) {
	Convey("The title carries the race and the score to two places", t, func() {
		So(Title("ascot::2026-10-18::r01", 0.6149), ShouldEqual, "[ALERT] ascot::2026-10-18::r01 (Score: 0.61)")
		So(Body([]string{"a", "b"}), ShouldEqual, "a\nb")
	})
}

func TestWebhookNotifier(t *testing.T) {
	Convey("Given a webhook endpoint", t, func() {
		var got Payload
		status := http.StatusNoContent
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(status)
		}))
		defer srv.Close()
		n := NewWebhookNotifier(srv.URL, srv.Client())

		Convey("When an alert is sent", func() {
			err := n.Notify(context.Background(), "york::2026-10-18::r03", 0.72, []string{"steam_move contributed 0.200 (weight 0.250)"})

			Convey("Then the payload describes it with a correlation id", func() {
				So(err, ShouldBeNil)
				So(got.RaceKey, ShouldEqual, "york::2026-10-18::r03")
				So(got.Title, ShouldEqual, "[ALERT] york::2026-10-18::r03 (Score: 0.72)")
				So(got.Reasons, ShouldHaveLength, 1)
				_, perr := uuid.Parse(got.ID)
				So(perr, ShouldBeNil)
			})
		})

		Convey("When the endpoint refuses", func() {
			status = http.StatusInternalServerError
			err := n.Notify(context.Background(), "york::2026-10-18::r03", 0.72, nil)
			So(errors.Is(err, ErrDelivery), ShouldBeTrue)
		})
	})
}

func TestCommandNotifier(t *testing.T) {
	Convey("Given a command notifier", t, func() {
		if _, err := exec.LookPath("true"); err != nil {
			SkipSo("no true binary on PATH")
			return
		}

		Convey("When the command succeeds", func() {
			n := NewCommandNotifier("true", TermuxArgs, 0)
			So(n.Notify(context.Background(), "bath::2026-10-18::r02", 0.5, []string{"x"}), ShouldBeNil)
		})

		Convey("When the command fails", func() {
			n := NewCommandNotifier("false", nil, 0)
			err := n.Notify(context.Background(), "bath::2026-10-18::r02", 0.5, nil)
			So(errors.Is(err, ErrDelivery), ShouldBeTrue)
		})
	})
}

func TestMulti(t *testing.T) {
	Convey("Given several notifiers with one failing", t, func() {
		ok := &recorder{}
		bad := &recorder{err: errors.New("offline")}
		m := Multi{bad, ok, NewLogNotifier(nil)}

		err := m.Notify(context.Background(), "r", 1, nil)

		Convey("Then every notifier is tried and the failure surfaces", func() {
			So(err, ShouldNotBeNil)
			So(ok.calls, ShouldEqual, 1)
			So(bad.calls, ShouldEqual, 1)
		})
	})
}

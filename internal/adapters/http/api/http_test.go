package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/paddock/internal/adapters/http/api"
	"github.com/okian/paddock/internal/adapters/mq/queue"
	"github.com/okian/paddock/internal/adapters/repository"
	"github.com/okian/paddock/internal/adapters/sources"
	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

type mockDependencies struct {
	submitted  []model.RawDocument
	payloads   []string
	submitErr  error
	duplicate  bool
	rows       []types.Row
	lastFilter repository.Filter
	detail     types.RaceDetail
	raceErr    error
	obs        []model.Observation
	obsErr     error
}

func (m *mockDependencies) Submit(_ context.Context, doc model.RawDocument) (types.SubmitResult, error) {
	if m.submitErr != nil {
		return types.SubmitResult{RaceKey: doc.RaceKey, Status: types.StatusRejected}, m.submitErr
	}
	m.submitted = append(m.submitted, doc)
	if m.duplicate {
		return types.SubmitResult{RaceKey: doc.RaceKey, Status: types.StatusDuplicate, Duplicate: true}, nil
	}
	return types.SubmitResult{ID: "id-1", RaceKey: doc.RaceKey, Status: types.StatusAccepted}, nil
}

func (m *mockDependencies) SubmitPayload(_ context.Context, source string, data []byte) ([]types.SubmitResult, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.payloads = append(m.payloads, source+"|"+string(data))
	return []types.SubmitResult{{ID: "id-2", RaceKey: "ascot::2026-10-18::r01", Status: types.StatusAccepted}}, nil
}

func (m *mockDependencies) Report(_ context.Context, f repository.Filter) ([]types.Row, error) {
	m.lastFilter = f
	return m.rows, nil
}

func (m *mockDependencies) Race(_ context.Context, key string) (types.RaceDetail, error) {
	if m.raceErr != nil {
		return types.RaceDetail{}, m.raceErr
	}
	d := m.detail
	d.Record.RaceKey = key
	return d, nil
}

func (m *mockDependencies) Observations(_ context.Context, key string, limit int) ([]model.Observation, error) {
	if m.obsErr != nil {
		return nil, m.obsErr
	}
	if limit < len(m.obs) {
		return m.obs[:limit], nil
	}
	return m.obs, nil
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

const validDocument = `{
	"source_id": "site-a",
	"race_key": "ascot::2026-10-18::r01",
	"captured_at": "2026-10-18T12:00:00Z",
	"fields": {"venue": {"value": "Ascot", "tier": "known_odds"}},
	"runners": [{"name": "Alpha", "fields": {"odds": {"value": "5/2", "tier": "known_odds"}}}]
}`

func newMux(deps *mockDependencies) *http.ServeMux {
	server := api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}, 100)
	mux := http.NewServeMux()
	server.Register(context.Background(), mux)
	return mux
}

func serve(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux := newMux(&mockDependencies{})

		Convey("Then health should expose metrics", func() {
			w := serve(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("And stats should be JSON", func() {
			w := serve(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var stats map[string]interface{}
			So(json.NewDecoder(w.Body).Decode(&stats), ShouldBeNil)
			So(stats["started"], ShouldEqual, true)
			So(w.Header().Get("Cache-Control"), ShouldEqual, "no-store")
		})

		Convey("And stats should only answer GET", func() {
			w := serve(mux, http.MethodPost, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
			So(w.Header().Get("Allow"), ShouldEqual, http.MethodGet)
		})

		Convey("And unknown paths should be not found", func() {
			w := serve(mux, http.MethodGet, "/unknown", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("And wrong methods should be not found", func() {
			So(serve(mux, http.MethodGet, "/documents", "").Code, ShouldEqual, http.StatusNotFound)
			So(serve(mux, http.MethodPost, "/races", "{}").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestDocumentsHandler(t *testing.T) {
	Convey("Given the documents endpoint", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("When posting a valid document", func() {
			w := serve(mux, http.MethodPost, "/documents", validDocument)

			Convey("Then it should be accepted", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				var res types.SubmitResult
				So(json.NewDecoder(w.Body).Decode(&res), ShouldBeNil)
				So(res.Status, ShouldEqual, types.StatusAccepted)
				So(res.ID, ShouldEqual, "id-1")
				So(deps.submitted, ShouldHaveLength, 1)
				So(deps.submitted[0].Runners[0].Fields[model.FieldOdds].Tier, ShouldEqual, model.TierKnownOdds)
			})
		})

		Convey("When posting a duplicate", func() {
			deps.duplicate = true
			w := serve(mux, http.MethodPost, "/documents", validDocument)

			Convey("Then it should answer 200", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When posting invalid JSON", func() {
			w := serve(mux, http.MethodPost, "/documents", "{")

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(deps.submitted, ShouldBeEmpty)
			})
		})

		Convey("When a runner has no name", func() {
			body := `{"race_key": "ascot::2026-10-18::r01", "runners": [{"name": ""}]}`
			w := serve(mux, http.MethodPost, "/documents", body)

			Convey("Then validation should reject it", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(deps.submitted, ShouldBeEmpty)
			})
		})

		Convey("When a tier name is misspelt", func() {
			body := strings.Replace(validDocument, `"tier": "known_odds"}}}]`, `"tier": "knownodds"}}}]`, 1)
			w := serve(mux, http.MethodPost, "/documents", body)

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(deps.submitted, ShouldBeEmpty)
			})
		})

		Convey("When a field omits its tier", func() {
			body := `{"race_key": "ascot::2026-10-18::r01", "runners": [{"name": "Alpha", "fields": {"odds": {"value": "5/2"}}}]}`
			w := serve(mux, http.MethodPost, "/documents", body)

			Convey("Then it is accepted at the unknown tier", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(deps.submitted, ShouldHaveLength, 1)
				So(deps.submitted[0].Runners[0].Fields[model.FieldOdds].Tier, ShouldEqual, model.TierUnknown)
			})
		})

		Convey("When the service rejects the document", func() {
			deps.submitErr = fmt.Errorf("ingest: %w", model.ErrMalformedDocument)
			w := serve(mux, http.MethodPost, "/documents", validDocument)

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the queue is full", func() {
			deps.submitErr = queue.ErrFull
			w := serve(mux, http.MethodPost, "/documents", validDocument)

			Convey("Then it should signal backpressure", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(w.Body.String(), ShouldContainSubstring, "backpressure")
			})
		})

		Convey("When the service is not running", func() {
			deps.submitErr = fmt.Errorf("service not started: %w", types.ErrUnavailable)
			w := serve(mux, http.MethodPost, "/documents", validDocument)

			Convey("Then it should be unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})
	})
}

func TestPasteHandler(t *testing.T) {
	Convey("Given the paste endpoint", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("When pasting a card", func() {
			w := serve(mux, http.MethodPost, "/paste?source=clipboard", "Ascot\nRace 1 13:30\n1 Alpha 5/2\n")

			Convey("Then it should be forwarded with the source", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(deps.payloads, ShouldHaveLength, 1)
				So(deps.payloads[0], ShouldStartWith, "clipboard|Ascot")
				var res api.SubmitResponse
				So(json.NewDecoder(w.Body).Decode(&res), ShouldBeNil)
				So(res.Results, ShouldHaveLength, 1)
			})
		})

		Convey("When pasting nothing", func() {
			w := serve(mux, http.MethodPost, "/paste", "   ")

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the card is not recognised", func() {
			deps.submitErr = fmt.Errorf("%w: no races found", sources.ErrUnrecognized)
			w := serve(mux, http.MethodPost, "/paste", "hello")

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestRacesHandler(t *testing.T) {
	Convey("Given the races endpoints", t, func() {
		deps := &mockDependencies{
			rows: []types.Row{{Rank: 1, RaceKey: "ascot::2026-10-18::r01", Score: 0.8}},
			obs: []model.Observation{
				{RaceKey: "ascot::2026-10-18::r01", Field: "odds", Value: "5/2"},
				{RaceKey: "ascot::2026-10-18::r01", Field: "odds", Value: "3/1"},
			},
		}
		mux := newMux(deps)

		Convey("When requesting the report with filters", func() {
			w := serve(mux, http.MethodGet, "/races?min_score=0.5&min_runners=5&max_runners=12&exclude_types=maiden,%20claiming&sort=time&limit=10", "")

			Convey("Then the filter should be parsed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastFilter.MinScore, ShouldEqual, 0.5)
				So(deps.lastFilter.MinRunners, ShouldEqual, 5)
				So(deps.lastFilter.MaxRunners, ShouldEqual, 12)
				So(deps.lastFilter.ExcludeTypes, ShouldResemble, []string{"maiden", "claiming"})
				So(deps.lastFilter.Sort, ShouldEqual, repository.SortTime)
				So(deps.lastFilter.Limit, ShouldEqual, 10)

				var rows []types.Row
				So(json.NewDecoder(w.Body).Decode(&rows), ShouldBeNil)
				So(rows, ShouldHaveLength, 1)
			})
		})

		Convey("When no limit is given", func() {
			serve(mux, http.MethodGet, "/races", "")

			Convey("Then the maximum applies", func() {
				So(deps.lastFilter.Limit, ShouldEqual, 100)
			})
		})

		Convey("When the sort key is unknown", func() {
			w := serve(mux, http.MethodGet, "/races?sort=colour", "")

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the limit is not a number", func() {
			w := serve(mux, http.MethodGet, "/races?limit=abc", "")

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When requesting one race", func() {
			w := serve(mux, http.MethodGet, "/races/ascot::2026-10-18::r01", "")

			Convey("Then the detail should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var d types.RaceDetail
				So(json.NewDecoder(w.Body).Decode(&d), ShouldBeNil)
				So(d.Record.RaceKey, ShouldEqual, "ascot::2026-10-18::r01")
			})
		})

		Convey("When the race is unknown", func() {
			deps.raceErr = fmt.Errorf("race %w", types.ErrNotFound)
			w := serve(mux, http.MethodGet, "/races/nowhere::2026-10-18::r01", "")

			Convey("Then it should be not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When requesting observations with a limit", func() {
			w := serve(mux, http.MethodGet, "/races/ascot::2026-10-18::r01/observations?limit=1", "")

			Convey("Then the journal should be trimmed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var obs []model.Observation
				So(json.NewDecoder(w.Body).Decode(&obs), ShouldBeNil)
				So(obs, ShouldHaveLength, 1)
			})
		})

		Convey("When the journal is disabled", func() {
			deps.obsErr = fmt.Errorf("observation journal disabled: %w", types.ErrUnavailable)
			w := serve(mux, http.MethodGet, "/races/ascot::2026-10-18::r01/observations", "")

			Convey("Then it should be unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When the sub-resource is unknown", func() {
			w := serve(mux, http.MethodGet, "/races/ascot::2026-10-18::r01/unknown", "")

			Convey("Then it should be not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestErrorHelpers(t *testing.T) {
	Convey("Given tagged errors", t, func() {
		cause := errors.New("boom")

		Convey("Then WrapKind should match both the kind and the cause", func() {
			err := api.WrapKind("api.op", api.ErrBadRequest, cause)
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: bad request: boom")
		})

		Convey("And NewKind should carry only the kind", func() {
			err := api.NewKind("api.op", api.ErrBackpressure)
			So(errors.Is(err, api.ErrBackpressure), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: backpressure")
		})

		Convey("And Wrap should keep nil as nil", func() {
			So(api.Wrap("api.op", nil), ShouldBeNil)
			So(errors.Is(api.Wrap("api.op", cause), cause), ShouldBeTrue)
		})
	})
}

package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/okian/paddock/internal/adapters/repository"
	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/types"
)

const defaultObservationLimit = 200

// RaceDependencies exposes the report and per-race reads.
type RaceDependencies interface {
	Report(ctx context.Context, f repository.Filter) ([]types.Row, error)
	Race(ctx context.Context, key string) (types.RaceDetail, error)
	Observations(ctx context.Context, key string, limit int) ([]model.Observation, error)
}

// RacesHandler handles the /races routes.
type RacesHandler struct {
	deps     RaceDependencies
	maxLimit int
}

// NewRacesHandler creates a new races handler.
func NewRacesHandler(deps RaceDependencies, maxLimit int) *RacesHandler {
	return &RacesHandler{deps: deps, maxLimit: maxLimit}
}

// HandleReport handles GET /races?min_score&min_runners&max_runners&exclude_types&sort&limit.
func (h *RacesHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_races"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	f, err := h.parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	rows, err := h.deps.Report(r.Context(), f)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleRace handles GET /races/{key} and GET /races/{key}/observations.
func (h *RacesHandler) HandleRace(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_race"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/races/")
	key, rest, _ := strings.Cut(path, "/")
	if key == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	if k, err := url.PathUnescape(key); err == nil {
		key = k
	}

	switch rest {
	case "":
		detail, err := h.deps.Race(r.Context(), key)
		if err != nil {
			writeServiceError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case "observations":
		limit := defaultObservationLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
				return
			}
			limit = n
		}
		obs, err := h.deps.Observations(r.Context(), key, limit)
		if err != nil {
			writeServiceError(w, op, err)
			return
		}
		if obs == nil {
			obs = []model.Observation{}
		}
		writeJSON(w, http.StatusOK, obs)
	default:
		writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrNotFound))
	}
}

func (h *RacesHandler) parseFilter(q url.Values) (repository.Filter, error) {
	f := repository.Filter{Sort: q.Get("sort"), Limit: h.maxLimit}
	var err error
	if v := q.Get("min_score"); v != "" {
		if f.MinScore, err = strconv.ParseFloat(v, 64); err != nil {
			return f, err
		}
	}
	if v := q.Get("min_runners"); v != "" {
		if f.MinRunners, err = strconv.Atoi(v); err != nil {
			return f, err
		}
	}
	if v := q.Get("max_runners"); v != "" {
		if f.MaxRunners, err = strconv.Atoi(v); err != nil {
			return f, err
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, repository.ErrInvalidLimit
		}
		if n < h.maxLimit {
			f.Limit = n
		}
	}
	for _, ex := range strings.Split(q.Get("exclude_types"), ",") {
		if ex = strings.TrimSpace(ex); ex != "" {
			f.ExcludeTypes = append(f.ExcludeTypes, ex)
		}
	}
	return f, f.Validate()
}

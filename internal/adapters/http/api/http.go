// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/okian/paddock/internal/adapters/mq/queue"
	"github.com/okian/paddock/internal/adapters/repository"
	"github.com/okian/paddock/internal/adapters/sources"
	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/types"
)

// Limits applied to request bodies and report sizes.
const (
	defaultMaxBody  = 1 << 20
	defaultMaxLimit = 500
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	DocumentDependencies
	RaceDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	statusHandler    *StatusHandler
	documentsHandler *DocumentsHandler
	racesHandler     *RacesHandler
}

// NewServer creates a new API server with all handlers. maxLimit caps the
// report size; values below one use the default.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int) *Server {
	if maxLimit < 1 {
		maxLimit = defaultMaxLimit
	}
	return &Server{
		statusHandler:    NewStatusHandler(statsProvider),
		documentsHandler: NewDocumentsHandler(deps, defaultMaxBody),
		racesHandler:     NewRacesHandler(deps, maxLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.statusHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statusHandler.HandleStats, "stats"))
	mux.HandleFunc("/documents", MetricsMiddleware(s.documentsHandler.HandlePostDocument, "documents"))
	mux.HandleFunc("/paste", MetricsMiddleware(s.documentsHandler.HandlePaste, "paste"))
	mux.HandleFunc("/races", MetricsMiddleware(s.racesHandler.HandleReport, "races"))
	mux.HandleFunc("/races/", MetricsMiddleware(s.racesHandler.HandleRace, "race"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps upstream errors onto status codes.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrMalformedDocument),
		errors.Is(err, sources.ErrUnrecognized),
		errors.Is(err, repository.ErrInvalidSort),
		errors.Is(err, repository.ErrInvalidLimit),
		errors.As(err, &verrs):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, queue.ErrFull), errors.Is(err, ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", WrapKind(op, ErrBackpressure, err))
	case errors.Is(err, ErrNotFound), errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case errors.Is(err, queue.ErrClosed), errors.Is(err, ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}

// SubmitResponse acknowledges a POST /documents or POST /paste.
type SubmitResponse struct {
	Results []types.SubmitResult `json:"results"`
}

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/types"
)

// DocumentDependencies accepts submissions.
type DocumentDependencies interface {
	Submit(ctx context.Context, doc model.RawDocument) (types.SubmitResult, error)
	SubmitPayload(ctx context.Context, sourceID string, data []byte) ([]types.SubmitResult, error)
}

// DocumentsHandler handles POST /documents and POST /paste.
type DocumentsHandler struct {
	deps     DocumentDependencies
	validate *validator.Validate
	maxBody  int64
}

// NewDocumentsHandler creates a new documents handler.
func NewDocumentsHandler(deps DocumentDependencies, maxBody int64) *DocumentsHandler {
	v := validator.New()
	_ = v.RegisterValidation("tier", func(fl validator.FieldLevel) bool {
		_, err := model.ParseTier(fl.Field().String())
		return err == nil
	})
	return &DocumentsHandler{deps: deps, validate: v, maxBody: maxBody}
}

// Submitted documents name tiers strictly: a misspelt tier is a bad
// request, not an unknown tier.
type fieldRequest struct {
	Value      string    `json:"value" validate:"required"`
	Tier       string    `json:"tier" validate:"tier"`
	ObservedAt time.Time `json:"observed_at"`
}

type runnerRequest struct {
	Name   string                  `json:"name" validate:"required"`
	Fields map[string]fieldRequest `json:"fields" validate:"dive"`
}

type documentRequest struct {
	SourceID   string                  `json:"source_id"`
	RaceKey    string                  `json:"race_key"`
	CapturedAt time.Time               `json:"captured_at"`
	Fields     map[string]fieldRequest `json:"fields" validate:"dive"`
	Runners    []runnerRequest         `json:"runners" validate:"dive"`
}

func (f fieldRequest) raw() model.RawField {
	tier, _ := model.ParseTier(f.Tier)
	return model.RawField{Value: f.Value, Tier: tier, ObservedAt: f.ObservedAt}
}

func rawFields(in map[string]fieldRequest) map[string]model.RawField {
	if in == nil {
		return nil
	}
	out := make(map[string]model.RawField, len(in))
	for name, f := range in {
		out[name] = f.raw()
	}
	return out
}

func (d documentRequest) document() model.RawDocument {
	doc := model.RawDocument{
		SourceID:   d.SourceID,
		RaceKey:    d.RaceKey,
		CapturedAt: d.CapturedAt,
		Fields:     rawFields(d.Fields),
	}
	for _, r := range d.Runners {
		doc.Runners = append(doc.Runners, model.RawRunner{Name: r.Name, Fields: rawFields(r.Fields)})
	}
	return doc
}

// HandlePostDocument handles POST /documents with a JSON RawDocument.
// Accepted documents answer 202; duplicates answer 200.
func (h *DocumentsHandler) HandlePostDocument(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_document"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req documentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.Submit(r.Context(), req.document())
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// HandlePaste handles POST /paste with a text, JSON or HTML card in the
// body. The optional source query parameter names the origin.
func (h *DocumentsHandler) HandlePaste(w http.ResponseWriter, r *http.Request) {
	const op = "api.paste"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(string(data)) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	results, err := h.deps.SubmitPayload(r.Context(), r.URL.Query().Get("source"), data)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	status := http.StatusOK
	for _, res := range results {
		if !res.Duplicate {
			status = http.StatusAccepted
			break
		}
	}
	writeJSON(w, status, SubmitResponse{Results: results})
}

// Package api exposes the recommendation core over HTTP/JSON.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runger/prizm/internal/suggestions/catalog"
	"github.com/runger/prizm/internal/suggestions/engine"
	"github.com/runger/prizm/internal/suggestions/event"
	"github.com/runger/prizm/internal/suggestions/feedback"
	"github.com/runger/prizm/internal/suggestions/learning"
	"github.com/runger/prizm/internal/suggestions/model"
	"github.com/runger/prizm/internal/suggestions/profile"
	"github.com/runger/prizm/internal/suggestions/suggest"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// Error codes returned in ErrorResponse.Error.
const (
	CodeInvalid  = "invalid_request"
	CodeNotFound = "not_found"
	CodeConflict = "conflict"
	CodeInternal = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FeedbackRequest is the body of POST /v1/suggestions/{id}/feedback.
type FeedbackRequest struct {
	Outcome  model.Outcome `json:"outcome"`
	OptionID string        `json:"option_id,omitempty"`
	Rating   *int          `json:"rating,omitempty"`
	Note     string        `json:"note,omitempty"`
	ActedOn  *bool         `json:"acted_on,omitempty"`
}

// FeedbackResponse acknowledges recorded feedback.
type FeedbackResponse struct {
	OK       bool                 `json:"ok"`
	Feedback model.FeedbackRecord `json:"feedback"`
}

// ResourceRequest is the body of PUT /v1/resources/{id}.
type ResourceRequest struct {
	CapacityHours float64  `json:"capacity_hours,omitempty"`
	Skills        []string `json:"skills,omitempty"`
}

// ActionRequest is the body of PUT /v1/actions/{id}.
type ActionRequest struct {
	Title       string     `json:"title,omitempty"`
	Skills      []string   `json:"skills,omitempty"`
	EffortHours float64    `json:"effort_hours,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Eligible    []string   `json:"eligible,omitempty"`
}

// ExplainResponse is the body of GET /v1/suggestions/{id}/explain.
type ExplainResponse struct {
	SuggestionID string `json:"suggestion_id"`
	Rationale    string `json:"rationale"`
	Source       string `json:"source"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Stats    []learning.Summary `json:"stats"`
	Counters map[string]int64   `json:"counters"`
}

// OKResponse acknowledges a write with no other result.
type OKResponse struct {
	OK bool `json:"ok"`
}

// Handler serves the HTTP API.
type Handler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewHandler creates a handler. A nil logger uses slog.Default().
func NewHandler(e *engine.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: e, logger: logger}
}

// Router returns the complete route tree including /metrics and /healthz.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, OKResponse{OK: true})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.engine.Metrics().Registry(), promhttp.HandlerOpts{}))
	r.Route("/v1", h.Routes)
	return r
}

// Routes registers the /v1 API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/actions", h.handleListActions)
	r.Put("/actions/{action}", h.handlePutAction)
	r.Put("/actions/{action}/options/{category}", h.handlePutOptions)
	r.Get("/actions/{action}/suggestions", h.handleGetSuggestions)
	r.Post("/actions/{action}/suggestions:generate", h.handleGenerate)
	r.Get("/actions/{action}/history", h.handleHistory)

	r.Get("/suggestions/{id}", h.handleGetSuggestion)
	r.Get("/suggestions/{id}/explain", h.handleExplain)
	r.Post("/suggestions/{id}/feedback", h.handleFeedback)

	r.Post("/events", h.handleEvent)

	r.Get("/resources", h.handleListResources)
	r.Get("/resources/{id}", h.handleGetResource)
	r.Put("/resources/{id}", h.handlePutResource)

	r.Get("/stats", h.handleStats)
	r.Delete("/stats", h.handleResetStats)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func categoryParam(raw string) (model.Category, error) {
	if raw == "" {
		return model.CategoryAssignment, nil
	}
	return model.ParseCategory(raw)
}

func (h *Handler) suggestionKey(w http.ResponseWriter, r *http.Request) (model.Key, bool) {
	cat, err := categoryParam(r.URL.Query().Get("category"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalid, err.Error())
		return model.Key{}, false
	}
	return model.Key{ActionID: chi.URLParam(r, "action"), Category: cat}, true
}

func (h *Handler) handleGetSuggestions(w http.ResponseWriter, r *http.Request) {
	key, ok := h.suggestionKey(w, r)
	if !ok {
		return
	}
	s, err := h.engine.GetSuggestions(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	key, ok := h.suggestionKey(w, r)
	if !ok {
		return
	}
	s, err := h.engine.Generate(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := h.suggestionKey(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, CodeInvalid, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	hist, err := h.engine.History(r.Context(), key, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if hist == nil {
		hist = []*model.Suggestion{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *Handler) handleGetSuggestion(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	text, source, err := h.engine.Explain(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExplainResponse{SuggestionID: id, Rationale: text, Source: source})
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.engine.SubmitFeedback(r.Context(), feedback.Submission{
		SuggestionID: chi.URLParam(r, "id"),
		Outcome:      req.Outcome,
		OptionID:     req.OptionID,
		Rating:       req.Rating,
		Note:         req.Note,
		ActedOn:      req.ActedOn,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FeedbackResponse{OK: true, Feedback: rec})
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if !h.decode(w, r, &ev) {
		return
	}
	if err := h.engine.HandleEvent(r.Context(), ev); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (h *Handler) handleListResources(w http.ResponseWriter, _ *http.Request) {
	profiles := h.engine.Profiles()
	if profiles == nil {
		profiles = []profile.Profile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (h *Handler) handleGetResource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := h.engine.Profile(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, CodeNotFound, "unknown resource "+id)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handlePutResource(w http.ResponseWriter, r *http.Request) {
	var req ResourceRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.engine.RegisterResource(r.Context(), chi.URLParam(r, "id"), req.CapacityHours, req.Skills)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Actions())
}

func (h *Handler) handlePutAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	a := catalog.Action{
		ID:             chi.URLParam(r, "action"),
		Title:          req.Title,
		RequiredSkills: req.Skills,
		EffortHours:    req.EffortHours,
		Deadline:       req.Deadline,
		Eligible:       req.Eligible,
	}
	if err := h.engine.RegisterAction(r.Context(), a); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handlePutOptions(w http.ResponseWriter, r *http.Request) {
	cat, err := model.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalid, err.Error())
		return
	}
	var opts []model.Option
	if !h.decode(w, r, &opts) {
		return
	}
	key := model.Key{ActionID: chi.URLParam(r, "action"), Category: cat}
	if err := h.engine.RegisterOptions(r.Context(), key, opts); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := h.engine.Stats()
	if stats == nil {
		stats = []learning.Summary{}
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Stats:    stats,
		Counters: h.engine.Metrics().Snapshot(),
	})
}

func (h *Handler) handleResetStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var cat model.Category
	if raw := q.Get("category"); raw != "" {
		c, err := model.ParseCategory(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, CodeInvalid, err.Error())
			return
		}
		cat = c
	}
	if err := h.engine.ResetStats(r.Context(), cat, q.Get("option_type")); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalid, "invalid JSON request body: "+err.Error())
		return false
	}
	return true
}

// StatusFor maps an engine error to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, feedback.ErrInvalid), errors.Is(err, engine.ErrInvalid):
		return http.StatusBadRequest, CodeInvalid
	case errors.Is(err, suggest.ErrNotFound), errors.Is(err, catalog.ErrUnknownAction):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, suggest.ErrNotPending), errors.Is(err, feedback.ErrAlreadyRecorded):
		return http.StatusConflict, CodeConflict
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		msg = "internal error"
	}
	h.writeError(w, status, code, msg)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

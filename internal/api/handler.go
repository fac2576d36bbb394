// Package api exposes the curator views and an operational publish
// endpoint over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/virelang/coordination/internal/bus"
	"github.com/virelang/coordination/internal/curator"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	bus     *bus.Bus
	curator *curator.Curator
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(b *bus.Bus, cur *curator.Curator, logger *zap.Logger) *Handler {
	return &Handler{bus: b, curator: cur, logger: logger}
}

// Router builds the chi router for the API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/publish", h.publish)
		r.Get("/plans", h.listPlans)
		r.Get("/rewards", h.listRewards)
		r.Get("/narrative", h.listNarrative)
		r.Get("/language", h.listLanguageStages)
		r.Get("/messages/recent", h.recentMessages)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// publishRequest is the body of POST /api/publish.
type publishRequest struct {
	Topic    string         `json:"topic"`
	Agent    string         `json:"agent"`
	Step     int64          `json:"step"`
	SchemaID string         `json:"schema_id"`
	Payload  map[string]any `json:"payload"`
}

// publish injects one message onto the bus. The response reports
// acceptance by the bus, not the gate's verdict: a blocked message still
// produces its audit record.
func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Topic == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "topic is required"})
		return
	}

	msg := &bus.Message{
		Topic:    req.Topic,
		Agent:    req.Agent,
		Step:     req.Step,
		SchemaID: req.SchemaID,
		Payload:  req.Payload,
	}
	if err := h.bus.Publish(r.Context(), msg); err != nil {
		h.logger.Error("publish via API failed", zap.String("topic", req.Topic), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": msg.ID})
}

// listPlans serves the plans view; ?transitions=true returns the full
// per-transition history instead of one row per plan.
func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	var (
		rows []curator.PlanRow
		err  error
	)
	if r.URL.Query().Get("transitions") == "true" {
		rows, err = h.curator.PlanTransitions(r.Context())
	} else {
		rows, err = h.curator.Plans(r.Context())
	}
	if err != nil {
		h.serveError(w, "plans view", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// listRewards serves the reward view; ?verify_origin=true keeps only
// rewards produced by verifications.
func (h *Handler) listRewards(w http.ResponseWriter, r *http.Request) {
	verifyOnly := r.URL.Query().Get("verify_origin") == "true"
	rows, err := h.curator.Rewards(r.Context(), verifyOnly)
	if err != nil {
		h.serveError(w, "reward view", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) listNarrative(w http.ResponseWriter, r *http.Request) {
	rows, err := h.curator.Narrative(r.Context())
	if err != nil {
		h.serveError(w, "narrative view", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) listLanguageStages(w http.ResponseWriter, r *http.Request) {
	rows, err := h.curator.LanguageStages(r.Context())
	if err != nil {
		h.serveError(w, "language view", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) recentMessages(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	msgs, err := h.curator.Recent(r.Context(), limit)
	if err != nil {
		h.serveError(w, "recent messages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) serveError(w http.ResponseWriter, what string, err error) {
	h.logger.Error("view query failed", zap.String("view", what), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

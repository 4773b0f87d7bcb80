package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/vault-mind/internal/clock"
	"github.com/nidhogg/vault-mind/internal/cognition"
	"github.com/nidhogg/vault-mind/internal/plan"
	"github.com/nidhogg/vault-mind/internal/provider"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	pipeline  *cognition.Pipeline
	clock     *clock.Clock
	sweeper   *clock.Sweeper
	providers *provider.Router
	logger    *zap.Logger
}

// NewHandler creates a new API handler. providers may be nil.
func NewHandler(pipeline *cognition.Pipeline, c *clock.Clock, sweeper *clock.Sweeper, providers *provider.Router, logger *zap.Logger) *Handler {
	return &Handler{
		pipeline:  pipeline,
		clock:     c,
		sweeper:   sweeper,
		providers: providers,
		logger:    logger,
	}
}

// Router builds the HTTP route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/status", h.status)
		r.Get("/queue", h.queueStatus)
		r.Post("/sweep", h.triggerSweep)
		r.Get("/providers", h.listProviders)
		r.Get("/providers/{pid}/health", h.providerHealth)

		r.Route("/agents/{id}", func(r chi.Router) {
			r.Post("/events", h.recordEvent)
			r.Post("/metacognition", h.requestMetacognition)
			r.Post("/outcomes", h.recordOutcome)
			r.Get("/insights", h.insightHistory)
			r.Get("/state", h.accumulatorState)
			r.Get("/plan", h.getPlan)
			r.Post("/plan/routine", h.setRoutine)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "vault-mind"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	agents, err := h.pipeline.Agents(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":     "vault-mind",
		"world_time":  h.clock.WorldTime(),
		"agent_count": len(agents),
		"agents":      agents,
		"queue":       h.pipeline.QueueStatus(),
	})
}

func (h *Handler) queueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.QueueStatus())
}

func (h *Handler) triggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sweeper not initialized"})
		return
	}
	checked := h.sweeper.FireNow(h.clock.WorldTime())
	writeJSON(w, http.StatusOK, map[string]int{"agents_checked": checked})
}

type providerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	out := []providerInfo{}
	if h.providers != nil {
		for _, p := range h.providers.ListProviders() {
			out = append(out, providerInfo{ID: p.ID(), Name: p.Name()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) providerHealth(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	if h.providers == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no providers configured"})
		return
	}
	p, ok := h.providers.GetProvider(pid)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown provider " + pid})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := p.HealthCheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"id": pid, "status": "unhealthy", "error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": pid, "status": "healthy"})
}

type eventRequest struct {
	Importance float64 `json:"importance"`
}

func (h *Handler) recordEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	fired, err := h.pipeline.RecordEvent(r.Context(), id, req.Importance, h.clock.WorldTime())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, cognition.ErrImportanceRange) || errors.Is(err, cognition.ErrAgentRequired) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reflection_triggered": fired})
}

type metacognitionRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) requestMetacognition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req metacognitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	decision, err := h.pipeline.RequestMetacognition(r.Context(), id, cognition.TriggerReason(req.Reason), h.clock.WorldTime())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, cognition.ErrAgentRequired) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type outcomeRequest struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func (h *Handler) recordOutcome(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}

	if err := h.pipeline.RecordOutcome(r.Context(), id, req.Status, req.Detail, h.clock.WorldTime()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, cognition.ErrAgentRequired) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (h *Handler) insightHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	insights, err := h.pipeline.InsightHistory(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if insights == nil {
		insights = []*cognition.Insight{}
	}
	writeJSON(w, http.StatusOK, insights)
}

func (h *Handler) accumulatorState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := h.pipeline.AccumulatorState(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.clock.WorldTime().Format("2006-01-02")
	}
	writeJSON(w, http.StatusOK, h.pipeline.Plans().Plan(r.Context(), id, date))
}

type routineRequest struct {
	Date    string       `json:"date"`
	Entries []plan.Entry `json:"entries"`
}

func (h *Handler) setRoutine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req routineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Date == "" {
		req.Date = h.clock.WorldTime().Format("2006-01-02")
	}
	if len(req.Entries) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "entries are required"})
		return
	}

	if err := h.pipeline.Plans().SetRoutine(r.Context(), id, req.Date, req.Entries); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, h.pipeline.Plans().Plan(r.Context(), id, req.Date))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

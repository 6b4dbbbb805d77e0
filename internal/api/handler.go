// Package api exposes the orchestration facade over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/seopilot/seopilot/internal/fault"
	"github.com/seopilot/seopilot/internal/orchestrator"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *Handler {
	return &Handler{orch: orch, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Post("/tasks", h.submitTask)
		r.Get("/tasks", h.listTasks)
		r.Get("/tasks/{id}", h.getTask)

		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.createAgent)
		r.Get("/agents/{id}", h.getAgent)
		r.Delete("/agents/{id}", h.deleteAgent)
	})
	return r
}

// statusFor maps fault kinds onto HTTP status codes.
func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindCapability:
		return http.StatusUnprocessableEntity
	case fault.KindOverloaded:
		return http.StatusTooManyRequests
	case fault.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.AggregateHealth())
}

func (h *Handler) submitTask(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	task, err := h.orch.Submit(r.Context(), req)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.orch.TaskHistory(r.Context(), limit)
	if err != nil {
		h.logger.Error("task history failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	view, ok := h.orch.GetTask(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Agents())
}

func (h *Handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var spec orchestrator.AgentSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	desc, err := h.orch.CreateAgent(r.Context(), spec)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, desc.Snapshot())
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	for _, snap := range h.orch.Agents() {
		if snap.ID == chi.URLParam(r, "id") {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
}

func (h *Handler) deleteAgent(w http.ResponseWriter, r *http.Request) {
	if !h.orch.DeregisterAgent(chi.URLParam(r, "id")) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/scenario-coach/internal/scenario"
	"github.com/ashureev/scenario-coach/internal/store"
	"github.com/go-chi/chi/v5"
)

// CatalogHandler exposes the scenario catalog and the outcome ledger.
type CatalogHandler struct {
	*Handler
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(base *Handler) *CatalogHandler {
	return &CatalogHandler{Handler: base}
}

// RegisterRoutes registers catalog routes.
func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/scenarios", h.ListScenarios)
	r.Get("/api/stats", h.Stats)
}

type scenarioSummary struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Default     bool                 `json:"default"`
	Objectives  []scenario.Objective `json:"objectives"`
}

// ListScenarios returns every registered scenario, without prompts or feedback.
func (h *CatalogHandler) ListScenarios(w http.ResponseWriter, _ *http.Request) {
	list := h.scenarios.List()
	out := make([]scenarioSummary, 0, len(list))
	for _, s := range list {
		out = append(out, scenarioSummary{
			ID:          s.ID,
			Title:       s.Title,
			Description: s.Description,
			Default:     s.ID == h.scenarios.Default(),
			Objectives:  s.Objectives,
		})
	}
	JSON(w, http.StatusOK, map[string]any{"scenarios": out})
}

// Stats returns per-scenario start and completion counts.
func (h *CatalogHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		slog.Error("Failed to load stats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	if stats == nil {
		stats = []store.ScenarioStats{}
	}
	JSON(w, http.StatusOK, map[string]any{"stats": stats})
}

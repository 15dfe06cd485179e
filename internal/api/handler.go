// Package api provides HTTP handlers for the coach API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ashureev/scenario-coach/internal/dialogue"
	"github.com/ashureev/scenario-coach/internal/scenario"
	"github.com/ashureev/scenario-coach/internal/store"
)

const defaultMaxBody = 64 << 10

// Dialogue is the engine the handlers drive.
type Dialogue interface {
	Start(ctx context.Context, scenarioID string) (*dialogue.Result, error)
	SendMessage(ctx context.Context, sessionID, text string) (*dialogue.Result, error)
	Snapshot(ctx context.Context, sessionID string) (*dialogue.Result, error)
}

// Interface compliance check.
var _ Dialogue = (*dialogue.Orchestrator)(nil)

// Handler provides common handler utilities.
type Handler struct {
	engine    Dialogue
	scenarios *scenario.Registry
	repo      store.Repository
	maxBody   int64
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(engine Dialogue, scenarios *scenario.Registry, repo store.Repository, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Handler{
		engine:    engine,
		scenarios: scenarios,
		repo:      repo,
		maxBody:   maxBody,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeBody reads a size-limited JSON body into v. An empty body leaves v
// untouched when allowEmpty is set.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	err := json.NewDecoder(r.Body).Decode(v)
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

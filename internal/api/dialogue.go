package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/scenario-coach/internal/dialogue"
	"github.com/ashureev/scenario-coach/internal/domain"
	"github.com/go-chi/chi/v5"
)

// DialogueHandler handles the scenario conversation endpoints.
type DialogueHandler struct {
	*Handler
}

// NewDialogueHandler creates a new dialogue handler.
func NewDialogueHandler(base *Handler) *DialogueHandler {
	return &DialogueHandler{Handler: base}
}

// RegisterRoutes registers dialogue routes.
func (h *DialogueHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/start", h.Start)
	r.Post("/api/message", h.Message)
	r.Get("/api/sessions/{id}", h.GetSession)
}

type startRequest struct {
	Scenario string `json:"scenario"`
}

type messageRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type startResponse struct {
	SessionID  string            `json:"sessionId"`
	Scenario   string            `json:"scenario"`
	Response   string            `json:"response"`
	Progress   domain.Objectives `json:"progress"`
	IsComplete bool              `json:"isComplete"`
}

type messageResponse struct {
	Response   string            `json:"response"`
	Progress   domain.Objectives `json:"progress"`
	IsComplete bool              `json:"isComplete"`
}

type sessionResponse struct {
	SessionID  string            `json:"sessionId"`
	Scenario   string            `json:"scenario"`
	Progress   domain.Objectives `json:"progress"`
	IsComplete bool              `json:"isComplete"`
	Turns      int               `json:"turns"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// Start opens a new session and returns the persona's opening line.
func (h *DialogueHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := h.decodeBody(w, r, &req, true); err != nil {
		writeBodyError(w, err)
		return
	}

	res, err := h.engine.Start(r.Context(), req.Scenario)
	if err != nil {
		writeDialogueError(w, err, "Failed to start session")
		return
	}

	JSON(w, http.StatusOK, startResponse{
		SessionID:  res.SessionID,
		Scenario:   res.ScenarioID,
		Response:   res.Text,
		Progress:   res.Progress,
		IsComplete: res.Completed,
	})
}

// Message runs one learner turn.
func (h *DialogueHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := h.decodeBody(w, r, &req, false); err != nil {
		writeBodyError(w, err)
		return
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	res, err := h.engine.SendMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeDialogueError(w, err, "Failed to process message")
		return
	}

	JSON(w, http.StatusOK, messageResponse{
		Response:   res.Text,
		Progress:   res.Progress,
		IsComplete: res.Completed,
	})
}

// GetSession returns the progress of a session without advancing it.
func (h *DialogueHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDialogueError(w, err, "Failed to load session")
		return
	}
	JSON(w, http.StatusOK, sessionResponse{
		SessionID:  res.SessionID,
		Scenario:   res.ScenarioID,
		Progress:   res.Progress,
		IsComplete: res.Completed,
		Turns:      res.Turns,
	})
}

// classifyError maps an engine error to a status and a client-safe body.
// Upstream details stay in the server log.
func classifyError(err error, fallback string) (int, errorResponse) {
	var upErr *dialogue.UpstreamError
	switch {
	case errors.Is(err, dialogue.ErrSessionNotFound):
		return http.StatusNotFound, errorResponse{Error: "Session not found"}
	case errors.Is(err, dialogue.ErrUnknownScenario):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, dialogue.ErrEmptyMessage):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.As(err, &upErr):
		if upErr.Timeout {
			return http.StatusGatewayTimeout, errorResponse{Error: fallback, Retryable: true}
		}
		return http.StatusInternalServerError, errorResponse{Error: fallback, Retryable: upErr.Retryable()}
	default:
		return http.StatusInternalServerError, errorResponse{Error: fallback}
	}
}

func writeDialogueError(w http.ResponseWriter, err error, fallback string) {
	status, body := classifyError(err, fallback)
	if status >= http.StatusInternalServerError {
		slog.Error(fallback, "error", err, "status", status)
	}
	JSON(w, status, body)
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	Error(w, http.StatusBadRequest, "invalid request body")
}

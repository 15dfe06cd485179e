package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

// WebSocketHandler runs dialogues over a WebSocket, one JSON frame per turn.
type WebSocketHandler struct {
	*Handler
	conns          *ConnRegistry
	allowedOrigins []string
	isDev          bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(base *Handler, conns *ConnRegistry, allowedOrigins []string, isDev bool) *WebSocketHandler {
	if conns == nil {
		conns = NewConnRegistry()
	}
	return &WebSocketHandler{
		Handler:        base,
		conns:          conns,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/dialogue", h.ServeHTTP)
}

// wsMessage is a client frame.
type wsMessage struct {
	Type      string `json:"type"`
	Scenario  string `json:"scenario,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// wsReply is a server frame. Type is "reply", "error" or "pong".
type wsReply struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionId,omitempty"`
	Scenario   string          `json:"scenario,omitempty"`
	Response   string          `json:"response,omitempty"`
	Progress   map[string]bool `json:"progress,omitempty"`
	IsComplete bool            `json:"isComplete"`
	Error      string          `json:"error,omitempty"`
	Status     int             `json:"status,omitempty"`
	Retryable  bool            `json:"retryable,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	ws.SetReadLimit(h.maxBody)
	defer func() {
		h.conns.Detach(ws)
		if closeErr := ws.Close(websocket.StatusNormalClosure, "dialogue ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.readLoop(r.Context(), ws)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client")
			} else {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}

		reply := h.dispatch(ctx, ws, msg)
		if err := wsjson.Write(ctx, ws, reply); err != nil {
			slog.Debug("WebSocket write error", "error", err)
			return
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, ws *websocket.Conn, msg wsMessage) wsReply {
	switch msg.Type {
	case "start":
		res, err := h.engine.Start(ctx, msg.Scenario)
		if err != nil {
			return errorReply(err, "Failed to start session")
		}
		h.conns.Attach(res.SessionID, ws)
		return wsReply{
			Type:       "reply",
			SessionID:  res.SessionID,
			Scenario:   res.ScenarioID,
			Response:   res.Text,
			Progress:   res.Progress,
			IsComplete: res.Completed,
		}
	case "message":
		if msg.SessionID == "" {
			return wsReply{Type: "error", Error: "sessionId is required", Status: http.StatusBadRequest}
		}
		res, err := h.engine.SendMessage(ctx, msg.SessionID, msg.Message)
		if err != nil {
			return errorReply(err, "Failed to process message")
		}
		h.conns.Attach(res.SessionID, ws)
		return wsReply{
			Type:       "reply",
			SessionID:  res.SessionID,
			Scenario:   res.ScenarioID,
			Response:   res.Text,
			Progress:   res.Progress,
			IsComplete: res.Completed,
		}
	case "ping":
		return wsReply{Type: "pong"}
	default:
		return wsReply{Type: "error", Error: "unknown message type", Status: http.StatusBadRequest}
	}
}

func errorReply(err error, fallback string) wsReply {
	status, body := classifyError(err, fallback)
	if status >= http.StatusInternalServerError {
		slog.Error(fallback, "error", err, "status", status)
	}
	return wsReply{Type: "error", Error: body.Error, Status: status, Retryable: body.Retryable}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

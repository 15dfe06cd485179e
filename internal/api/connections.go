package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnRegistry tracks the WebSocket connections attached to each dialogue
// session so they can be closed when the session goes away.
type ConnRegistry struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{
		active: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Attach records that conn is driving sessionID.
func (m *ConnRegistry) Attach(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[sessionID]; !exists {
		m.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	m.active[sessionID][conn] = struct{}{}
}

// Detach removes conn from every session it was attached to.
func (m *ConnRegistry) Detach(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sid, conns := range m.active {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(m.active, sid)
		}
	}
}

// Count returns the number of connections attached to sessionID.
func (m *ConnRegistry) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[sessionID])
}

// CloseSession closes every connection attached to sessionID.
func (m *ConnRegistry) CloseSession(sessionID string) {
	m.mu.Lock()
	conns := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session expired")
	}
	if len(conns) > 0 {
		slog.Info("Dialogue connections closed", "session_id", sessionID, "count", len(conns))
	}
}

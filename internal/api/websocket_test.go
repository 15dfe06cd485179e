//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketDialogue(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	conns := NewConnRegistry()
	NewWebSocketHandler(s.base, conns, []string{"*"}, false).RegisterRoutes(s.router)

	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/dialogue", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.replies.push(text("Hey..."))
	s.replies.push(report("Thanks.", `{"empathyShown":true}`))

	require.NoError(t, wsjson.Write(ctx, conn, wsMessage{Type: "start"}))
	var reply wsReply
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.Equal(t, "reply", reply.Type)
	assert.Equal(t, "sess-1", reply.SessionID)
	assert.Equal(t, "Hey...", reply.Response)
	assert.Equal(t, 1, conns.Count("sess-1"))

	require.NoError(t, wsjson.Write(ctx, conn, wsMessage{Type: "message", SessionID: "sess-1", Message: "I'm here for you"}))
	reply = wsReply{}
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.Equal(t, "Thanks.", reply.Response)
	assert.True(t, reply.Progress["empathyShown"])
	assert.False(t, reply.IsComplete)

	require.NoError(t, wsjson.Write(ctx, conn, wsMessage{Type: "message", SessionID: "nope", Message: "hi"}))
	reply = wsReply{}
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, 404, reply.Status)
	assert.Equal(t, "Session not found", reply.Error)

	require.NoError(t, wsjson.Write(ctx, conn, wsMessage{Type: "ping"}))
	reply = wsReply{}
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.Equal(t, "pong", reply.Type)

	conns.CloseSession("sess-1")
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestWebSocketOriginCheck(t *testing.T) {
	t.Parallel()

	h := NewWebSocketHandler(NewHandler(nil, nil, nil, 0), nil, []string{"https://app.example"}, false)

	req := httptest.NewRequest("GET", "/ws/dialogue", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://app.example")
	assert.True(t, h.checkOrigin(req))

	dev := NewWebSocketHandler(NewHandler(nil, nil, nil, 0), nil, nil, true)
	req.Header.Set("Origin", "https://evil.example")
	assert.True(t, dev.checkOrigin(req))
}

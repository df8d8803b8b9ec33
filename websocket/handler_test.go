package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelmounim-dev/scanhub/auth"
	"github.com/abdelmounim-dev/scanhub/config"
	"github.com/abdelmounim-dev/scanhub/hub"
	"github.com/abdelmounim-dev/scanhub/journal"
	"github.com/abdelmounim-dev/scanhub/store"
)

func newTestServer(t *testing.T, token string) (*httptest.Server, *ClientManager, *hub.Handler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	cache, err := store.OpenCache(filepath.Join(dir, "students_cache.json"), logger)
	require.NoError(t, err)
	state, err := store.OpenState(filepath.Join(dir, "state.json"), logger)
	require.NoError(t, err)
	events, err := journal.Open(filepath.Join(dir, "events.jsonl"), logger)
	require.NoError(t, err)

	h := hub.NewHandler(hub.NewRegistry(auth.NewSharedToken(token)), cache, state, events, logger)
	manager := NewClientManager()
	cfg := &config.WebSocketConfig{MessageSizeLimit: 1 << 16, HandshakeTimeout: 5, PingInterval: 1, WriteTimeout: 2, SendBuffer: 16}
	srv := httptest.NewServer(NewHandler(h, manager, cfg, logger))
	t.Cleanup(srv.Close)
	return srv, manager, h
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestWebSocketFlow(t *testing.T) {
	srv, manager, h := newTestServer(t, "secret")

	first := dial(t, srv)
	welcome := readMessage(t, first)
	assert.Equal(t, "welcome", welcome["type"])
	assert.NotEmpty(t, welcome["nodeId"])

	last := dial(t, srv)
	readMessage(t, last)

	require.NoError(t, first.WriteJSON(map[string]any{"type": "register", "token": "secret", "node": map[string]string{"name": "gate", "role": "first_scan"}}))
	assert.Equal(t, "cache", readMessage(t, first)["type"])
	assert.Equal(t, "Registered as gate (first_scan)", readMessage(t, first)["message"])

	require.NoError(t, last.WriteJSON(map[string]any{"type": "register", "token": "secret", "node": map[string]string{"name": "exit", "role": "last_scan"}}))
	readMessage(t, last)
	readMessage(t, last)

	require.NoError(t, first.WriteJSON(map[string]any{"type": "student_record", "payload": map[string]string{"studentId": "S1", "homeworkStatus": "done"}}))
	fwd := readMessage(t, last)
	assert.Equal(t, "forward_student_record", fwd["type"])
	assert.Equal(t, "S1", fwd["payload"].(map[string]any)["studentId"])

	assert.Len(t, h.Nodes(), 2)
	assert.Equal(t, 2, manager.Count())
}

func TestWebSocketUnauthorizedIsClosed(t *testing.T) {
	srv, manager, h := newTestServer(t, "secret")
	conn := dial(t, srv)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "register", "token": "wrong", "node": map[string]string{"role": "first_scan"}}))
	reply := readMessage(t, conn)
	assert.Equal(t, "Unauthorized: invalid token", reply["message"])
	assert.Equal(t, "error", reply["level"])

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.Eventually(t, func() bool { return len(h.Nodes()) == 0 && manager.Count() == 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestWebSocketMalformedKeepsConnection(t *testing.T) {
	srv, _, h := newTestServer(t, "")
	conn := dial(t, srv)
	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "cache_request"}))
	assert.Equal(t, "cache", readMessage(t, conn)["type"])
	assert.Len(t, h.Nodes(), 1)
}

func TestCloseAllConnections(t *testing.T) {
	srv, manager, h := newTestServer(t, "")
	conn := dial(t, srv)
	readMessage(t, conn)

	manager.CloseAllConnections("Server shutting down")
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	manager.WaitForCompletion()
	assert.Empty(t, h.Nodes())
}

func TestSessionAfterCloseAllIsRefused(t *testing.T) {
	srv, manager, h := newTestServer(t, "")
	manager.CloseAllConnections("Server shutting down")

	conn := dial(t, srv)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	manager.WaitForCompletion()
	assert.Zero(t, manager.Count())
	assert.Empty(t, h.Nodes(), "a refused session never reaches the hub")
}

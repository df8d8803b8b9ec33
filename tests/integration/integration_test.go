package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/abdelmounim-dev/scanhub/api"
	"github.com/abdelmounim-dev/scanhub/auth"
	"github.com/abdelmounim-dev/scanhub/broker"
	"github.com/abdelmounim-dev/scanhub/config"
	"github.com/abdelmounim-dev/scanhub/hub"
	"github.com/abdelmounim-dev/scanhub/journal"
	"github.com/abdelmounim-dev/scanhub/server"
	"github.com/abdelmounim-dev/scanhub/session"
	"github.com/abdelmounim-dev/scanhub/store"
	wshandler "github.com/abdelmounim-dev/scanhub/websocket"
)

const (
	eventsChannel = "scanhub-events"
	serverID      = "hub-it"
	nodeToken     = "secret"
	testTimeout   = 30 * time.Second
)

func startRedis(ctx context.Context, t *testing.T) *redis.Client {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() { container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	require.NoError(t, client.Ping(ctx).Err(), "Failed to connect to Redis")
	t.Cleanup(func() { client.Close() })
	return client
}

// startHub wires the full stack the way main does, minus the listeners.
func startHub(t *testing.T, redisClient *redis.Client) (*httptest.Server, *broker.Relay) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	cache, err := store.OpenCache(filepath.Join(dir, "students_cache.json"), logger)
	require.NoError(t, err)
	state, err := store.OpenState(filepath.Join(dir, "state.json"), logger)
	require.NoError(t, err)
	events, err := journal.Open(filepath.Join(dir, "events.jsonl"), logger)
	require.NoError(t, err)

	relay := broker.NewRelay(broker.NewRedisBroker(redisClient, logger), eventsChannel, serverID, logger)
	h := hub.NewHandler(hub.NewRegistry(auth.NewSharedToken(nodeToken)), cache, state, events, logger,
		hub.WithServerID(serverID),
		hub.WithRelay(relay),
		hub.WithPresence(session.NewRedisStore(redisClient, serverID, time.Minute)),
	)

	wsCfg := &config.WebSocketConfig{MessageSizeLimit: 1 << 20, HandshakeTimeout: 5, PingInterval: 5, WriteTimeout: 5, SendBuffer: 64}
	clients := wshandler.NewClientManager()
	srv := server.NewServer(&config.ServerConfig{Host: "127.0.0.1", Port: 0},
		api.New(h, state, events.Path(), 5, logger).Handler(),
		wshandler.NewHandler(h, clients, wsCfg, logger),
		clients, nil, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx, relay)
	})
	return ts, relay
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err, "Failed to connect to WebSocket server")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func register(t *testing.T, conn *websocket.Conn, name, role string) string {
	t.Helper()
	welcome := read(t, conn)
	require.Equal(t, "welcome", welcome["type"])
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":  "register",
		"token": nodeToken,
		"node":  map[string]string{"name": name, "role": role},
	}))
	require.Equal(t, "cache", read(t, conn)["type"])
	require.Equal(t, "log", read(t, conn)["type"])
	return welcome["nodeId"].(string)
}

func TestE2EScanFlow(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("Skipping integration test: set INTEGRATION env var to run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	redisClient := startRedis(ctx, t)
	ts, relay := startHub(t, redisClient)

	// Subscribe before any event is relayed.
	pubsub := redisClient.Subscribe(ctx, eventsChannel)
	defer pubsub.Close()
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	first := dial(t, ts)
	firstID := register(t, first, "entrance", "first_scan")
	last := dial(t, ts)
	register(t, last, "exit", "last_scan")

	// Presence records are mirrored into Redis.
	keys, err := redisClient.Keys(ctx, "presence:"+serverID+":*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, first.WriteJSON(map[string]any{
		"type":    "student_record",
		"payload": map[string]string{"studentId": "S42", "registrationStatus": "registered"},
	}))

	fwd := read(t, last)
	assert.Equal(t, "forward_student_record", fwd["type"])
	assert.Equal(t, "S42", fwd["payload"].(map[string]any)["studentId"])

	relay.Wait()
	select {
	case msg := <-pubsub.Channel():
		var relayed broker.Message
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &relayed))
		assert.Equal(t, serverID, relayed.ServerID)
		assert.Equal(t, "student_record", relayed.Type)
		assert.Contains(t, string(relayed.Data), `"S42"`)
	case <-ctx.Done():
		t.Fatal("no relayed event on Redis")
	}

	// Disconnecting removes the presence record.
	first.Close()
	assert.Eventually(t, func() bool {
		n, err := redisClient.Exists(ctx, "presence:"+serverID+":"+firstID).Result()
		return err == nil && n == 0
	}, 5*time.Second, 50*time.Millisecond)
}

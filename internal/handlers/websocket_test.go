package handlers

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/models"
	"github.com/tuyendl123/ComfyUI/internal/services/events"
	"github.com/tuyendl123/ComfyUI/internal/services/sessions"
)

type wsTestEnv struct {
	registry    *sessions.Registry
	broadcaster *events.Broadcaster
	server      *httptest.Server
	url         string
}

func newWSTestEnv(t *testing.T, queueRemaining func() int) *wsTestEnv {
	t.Helper()
	logger := arbor.NewLogger()
	registry := sessions.NewRegistry(logger)
	broadcaster := events.NewBroadcaster(registry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go broadcaster.Run(ctx)

	handler := NewWebSocketHandler(registry, queueRemaining, common.WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	})
	server := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	t.Cleanup(server.Close)

	return &wsTestEnv{
		registry:    registry,
		broadcaster: broadcaster,
		server:      server,
		url:         "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) models.WSMessage {
	t.Helper()
	var msg models.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWSInitialStatusCarriesSessionID(t *testing.T) {
	env := newWSTestEnv(t, func() int { return 3 })

	conn := dialWS(t, env.url+"?clientId=client-a")

	msg := readEnvelope(t, conn)
	assert.Equal(t, models.EventStatus, msg.Type)

	data := msg.Data.(map[string]any)
	assert.Equal(t, "client-a", data["sid"])
	status := data["status"].(map[string]any)
	execInfo := status["exec_info"].(map[string]any)
	assert.Equal(t, float64(3), execInfo["queue_remaining"])
}

func TestWSGeneratesSessionIDWhenAbsent(t *testing.T) {
	env := newWSTestEnv(t, func() int { return 0 })

	conn := dialWS(t, env.url)

	msg := readEnvelope(t, conn)
	data := msg.Data.(map[string]any)
	sid, ok := data["sid"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, sid)
	assert.NotNil(t, env.registry.Get(sid))
}

func TestWSReconnectEvictsPreviousConnection(t *testing.T) {
	env := newWSTestEnv(t, func() int { return 0 })

	first := dialWS(t, env.url+"?clientId=client-a")
	readEnvelope(t, first)

	second := dialWS(t, env.url+"?clientId=client-a")
	readEnvelope(t, second)

	// The evicted connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	// Exactly one session remains registered under the ID.
	assert.Equal(t, 1, env.registry.Count())
}

func TestWSReconnectReplaysExecutingEvent(t *testing.T) {
	env := newWSTestEnv(t, func() int { return 1 })

	node := "7"
	env.registry.SetExecuting("client-a", "prompt-1", &node)

	conn := dialWS(t, env.url+"?clientId=client-a")
	readEnvelope(t, conn) // status

	msg := readEnvelope(t, conn)
	assert.Equal(t, models.EventExecuting, msg.Type)
	data := msg.Data.(map[string]any)
	assert.Equal(t, "7", data["node"])
	assert.Equal(t, "prompt-1", data["prompt_id"])
}

func TestWSBinaryFrameDelivery(t *testing.T) {
	env := newWSTestEnv(t, func() int { return 0 })

	conn := dialWS(t, env.url+"?clientId=client-a")
	readEnvelope(t, conn)

	payload := []byte{1, 2, 3, 4}
	env.broadcaster.PublishBinary(models.BinaryPreviewImage, payload, "client-a")

	msgType, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	require.Len(t, frame, 8)
	assert.Equal(t, models.BinaryPreviewImage, binary.BigEndian.Uint32(frame[:4]))
	assert.Equal(t, payload, frame[4:])
}

func TestWSBroadcastReachesAllSessions(t *testing.T) {
	env := newWSTestEnv(t, func() int { return 0 })

	connA := dialWS(t, env.url+"?clientId=a")
	readEnvelope(t, connA)
	connB := dialWS(t, env.url+"?clientId=b")
	readEnvelope(t, connB)

	env.broadcaster.Publish(models.EventStatus, models.StatusPayload(5, ""), "")

	for _, conn := range []*websocket.Conn{connA, connB} {
		msg := readEnvelope(t, conn)
		assert.Equal(t, models.EventStatus, msg.Type)
	}
}

func TestWSTargetedEventSkipsOtherSessions(t *testing.T) {
	env := newWSTestEnv(t, func() int { return 0 })

	connA := dialWS(t, env.url+"?clientId=a")
	readEnvelope(t, connA)
	connB := dialWS(t, env.url+"?clientId=b")
	readEnvelope(t, connB)

	env.broadcaster.Publish(models.EventExecuting, models.ExecutingPayload(nil, "p"), "a")

	msg := readEnvelope(t, connA)
	assert.Equal(t, models.EventExecuting, msg.Type)

	connB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var other models.WSMessage
	err := connB.ReadJSON(&other)
	assert.Error(t, err, "session b must not receive a's event")
}

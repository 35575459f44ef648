package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatwatch/backend/internal/domain/events"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastsEvents(t *testing.T) {
	hub := NewHub()
	hub.Start()
	defer hub.Stop()

	server := httptest.NewServer(httptestHandler(hub))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.HandleEvent(&events.ConversationFailedEvent{
		ConversationID: -100,
		Stage:          "fetch",
		Kind:           "transient",
		Error:          "timeout",
		EventTime:      time.Now(),
	}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, string(events.ConversationFailed), got.Type)
	assert.Equal(t, "fetch", got.Data["stage"])
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub := NewHub()
	hub.Start()
	defer hub.Stop()

	server := httptest.NewServer(httptestHandler(hub))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func httptestHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.ServeWS)
}

package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"persona-kb/internal/events"
	"persona-kb/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourcesWebSocket_UpgradesThroughRouter(t *testing.T) {
	hub := events.NewHub()
	hub.Start()
	defer hub.Shutdown()

	srv := httptest.NewServer(SetupRoutes(NewHandler(Deps{Feed: hub})))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sources?persona_id=rumi"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("rumi") == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(models.SourceEvent{SourceID: "s1", PersonaID: "rumi", Status: models.StatusCompleted, ChunkCount: 2, At: time.Now()})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got models.SourceEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "s1", got.SourceID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.ChunkCount)
}

package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceguard/internal/auth"
	"github.com/your-org/faceguard/internal/models"
)

func serve(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ring, err := auth.NewKeyRing(nil)
	require.NoError(t, err)
	r := gin.New()
	r.GET("/ws", auth.APIKeyMiddleware(ring), hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestBroadcastFiltersByOrg(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	go hub.Run(ctx)
	srv := serve(t, hub)

	org := uuid.New()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?org_id=" + org.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	other := &models.SecurityEvent{ID: uuid.New(), Kind: models.EventAnomaly, OrgID: uuid.New(), Type: "time_anomaly"}
	mine := &models.SecurityEvent{ID: uuid.New(), Kind: models.EventRateLimitBlock, OrgID: org, Type: "face"}
	require.NoError(t, hub.Broadcast(ctx, other))
	require.NoError(t, hub.Broadcast(ctx, mine))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got models.SecurityEvent
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, mine.ID, got.ID)
	require.Equal(t, org, got.OrgID)
}

func TestHandleWSRejectsBadOrg(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	go hub.Run(ctx)
	srv := serve(t, hub)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?org_id=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 400, resp.StatusCode)
}

func TestBroadcastAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	for i := 0; i < 300; i++ {
		require.NoError(t, hub.Broadcast(context.Background(), &models.SecurityEvent{OrgID: uuid.New()}))
	}
}

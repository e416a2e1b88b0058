package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/rtcmesh/internal/bus"
	"github.com/streamspace/rtcmesh/internal/drain"
	"github.com/streamspace/rtcmesh/internal/kvstore"
	"github.com/streamspace/rtcmesh/internal/placement"
	"github.com/streamspace/rtcmesh/internal/relay"
	"github.com/streamspace/rtcmesh/internal/session"
)

func newTestSocketNodeEngine(t *testing.T) (*gin.Engine, *session.Manager, *drain.Controller) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := kvstore.NewFakeStore()
	sessions := session.NewManager("node-1", store, 100, time.Hour, 10)
	router := relay.New("node-1", bus.NewFakeBus(), store, sessions, 100)
	ring, err := placement.Build([]placement.Candidate{{ID: "node-1", Weight: 100}}, 4, 8)
	require.NoError(t, err)
	router.InstallRing(ring)

	drainCtl := drain.NewController("node-1", sessions, time.Minute, 50*time.Millisecond)

	cfg := SocketNodeConfig{NodeID: "node-1", WriteWait: 200 * time.Millisecond, IdleRead: time.Second}
	r := NewSocketNodeRouter(cfg, sessions, router, drainCtl)

	engine := gin.New()
	r.Register(engine)
	return engine, sessions, drainCtl
}

func TestSocketNodeHealthzAndReadyz(t *testing.T) {
	engine, _, _ := newTestSocketNodeEngine(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestSocketNodeWsConnectRequiresClientID(t *testing.T) {
	engine, _, _ := newTestSocketNodeEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/ws/connect", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSocketNodeWsConnectUpgradesAndSendsWelcome(t *testing.T) {
	engine, sessions, _ := newTestSocketNodeEngine(t)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/connect?clientId=alice"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome welcomeFrame
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "node-1", welcome.NodeID)
	assert.Equal(t, "alice", welcome.ClientID)

	require.Eventually(t, func() bool {
		_, ok := sessions.Get("alice")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestSocketNodeDrainLifecycle(t *testing.T) {
	engine, _, drainCtl := newTestSocketNodeEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/drain", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool { return drainCtl.IsDraining() }, time.Second, 10*time.Millisecond)

	statusReq := httptest.NewRequest(http.MethodGet, "/drain/status", nil)
	statusRec := httptest.NewRecorder()
	engine.ServeHTTP(statusRec, statusReq)
	assert.Equal(t, http.StatusOK, statusRec.Code)
	assert.Contains(t, statusRec.Body.String(), `"draining":true`)
}

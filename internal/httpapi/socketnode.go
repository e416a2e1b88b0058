// Package httpapi mounts the gin HTTP surface for both binaries
// (spec.md §6): health/readiness probes, drain control, the Prometheus
// scrape endpoint, and the WebSocket upgrade (socket node) or resolve
// endpoints (load balancer).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamspace/rtcmesh/internal/drain"
	"github.com/streamspace/rtcmesh/internal/logging"
	"github.com/streamspace/rtcmesh/internal/metrics"
	"github.com/streamspace/rtcmesh/internal/relay"
	"github.com/streamspace/rtcmesh/internal/session"
)

// SocketNodeConfig carries the per-connection timing the upgrade handler
// applies to every accepted session.
type SocketNodeConfig struct {
	NodeID      string
	WriteWait   time.Duration
	IdleRead    time.Duration
	CheckOrigin func(r *http.Request) bool
}

// SocketNodeRouter wires the socket node's HTTP surface to its session
// manager, relay router, and drain controller.
type SocketNodeRouter struct {
	cfg      SocketNodeConfig
	sessions *session.Manager
	relay    *relay.Router
	drainCtl *drain.Controller
	upgrader websocket.Upgrader
}

// NewSocketNodeRouter constructs a SocketNodeRouter. A nil CheckOrigin
// accepts every origin, matching the teacher's non-browser-client
// allowance as the permissive default; deployments that need a strict
// allowlist set CheckOrigin explicitly.
func NewSocketNodeRouter(cfg SocketNodeConfig, sessions *session.Manager, r *relay.Router, drainCtl *drain.Controller) *SocketNodeRouter {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &SocketNodeRouter{
		cfg:      cfg,
		sessions: sessions,
		relay:    r,
		drainCtl: drainCtl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Register mounts every socket node route onto engine.
func (s *SocketNodeRouter) Register(engine *gin.Engine) {
	engine.GET("/healthz", s.healthz)
	engine.GET("/readyz", s.readyz)
	engine.POST("/drain", s.startDrain)
	engine.GET("/drain/status", s.drainStatus)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	engine.GET("/ws/connect", s.wsConnect)
}

func (s *SocketNodeRouter) healthz(c *gin.Context) {
	if s.drainCtl != nil && s.drainCtl.IsDraining() {
		c.String(http.StatusServiceUnavailable, "Draining")
		return
	}
	c.String(http.StatusOK, "OK")
}

func (s *SocketNodeRouter) readyz(c *gin.Context) {
	if s.drainCtl != nil && s.drainCtl.IsDraining() {
		c.String(http.StatusServiceUnavailable, "Draining")
		return
	}
	c.String(http.StatusOK, "Ready")
}

func (s *SocketNodeRouter) startDrain(c *gin.Context) {
	if s.drainCtl == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	// The drain run must outlive this request; it's handed a detached
	// background context, not c.Request.Context() (which is canceled as
	// soon as the handler returns).
	go s.drainCtl.Start(context.Background(), "requested via HTTP")
	c.JSON(http.StatusAccepted, gin.H{"remaining": s.sessions.Count()})
}

func (s *SocketNodeRouter) drainStatus(c *gin.Context) {
	if s.drainCtl == nil {
		c.JSON(http.StatusOK, gin.H{"draining": false, "complete": true, "remaining": 0})
		return
	}
	draining := s.drainCtl.IsDraining()
	remaining := s.drainCtl.Remaining()
	complete := draining && remaining == 0
	c.JSON(http.StatusOK, gin.H{"draining": draining, "complete": complete, "remaining": remaining})
}

// welcomeFrame is the first frame sent on every accepted connection.
type welcomeFrame struct {
	NodeID   string `json:"nodeId"`
	ClientID string `json:"clientId"`
}

func (s *SocketNodeRouter) wsConnect(c *gin.Context) {
	if s.drainCtl != nil && s.drainCtl.IsDraining() {
		c.String(http.StatusServiceUnavailable, "Draining")
		return
	}

	clientID := c.Query("clientId")
	if clientID == "" {
		c.String(http.StatusBadRequest, "clientId is required")
		return
	}
	resumeOffset, _ := strconv.ParseInt(c.Query("resumeOffset"), 10, 64)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.HTTP().Warn().Err(err).Str("clientId", clientID).Msg("websocket upgrade failed")
		return
	}

	// The welcome frame must be written before Attach, which both writes
	// buffered replay frames synchronously and starts the session's writer
	// goroutine. gorilla/websocket does not support concurrent writers on
	// one *websocket.Conn, so nothing else may write to conn afterward.
	welcome, err := json.Marshal(welcomeFrame{NodeID: s.cfg.NodeID, ClientID: clientID})
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
			logging.HTTP().Warn().Err(err).Str("clientId", clientID).Msg("failed to write welcome frame")
			conn.Close()
			return
		}
	}

	sess, err := s.sessions.Attach(c.Request.Context(), clientID, conn, resumeOffset, s.cfg.WriteWait, s.cfg.IdleRead)
	if err != nil {
		logging.HTTP().Warn().Err(err).Str("clientId", clientID).Msg("session attach failed")
		conn.Close()
		return
	}

	session.ReadPump(c.Request.Context(), sess, s.relay)
	s.sessions.Remove(c.Request.Context(), clientID)
}

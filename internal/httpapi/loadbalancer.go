package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamspace/rtcmesh/internal/metrics"
	"github.com/streamspace/rtcmesh/internal/placement"
)

// RingSource gives the load balancer's resolve endpoints wait-free read
// access to the currently installed ring, satisfied by ring.Installer.
type RingSource interface {
	Current() *placement.Ring
}

// LoadBalancerRouter wires the load balancer's HTTP surface to the
// installed ring snapshot.
type LoadBalancerRouter struct {
	ring RingSource
}

// NewLoadBalancerRouter constructs a LoadBalancerRouter.
func NewLoadBalancerRouter(ring RingSource) *LoadBalancerRouter {
	return &LoadBalancerRouter{ring: ring}
}

// Register mounts every load-balancer route onto engine.
func (l *LoadBalancerRouter) Register(engine *gin.Engine) {
	engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	v1 := engine.Group("/api/v1")
	v1.GET("/resolve", l.resolve)
	v1.GET("/connect", l.resolve)
}

func (l *LoadBalancerRouter) resolve(c *gin.Context) {
	clientID := c.Query("clientId")
	if clientID == "" {
		clientID = c.Query("userId")
	}
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clientId is required"})
		return
	}

	ring := l.ring.Current()
	if ring == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ring not yet initialized"})
		return
	}

	nodeID, err := ring.Resolve(clientID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodeId": nodeID})
}

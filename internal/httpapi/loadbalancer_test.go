package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/rtcmesh/internal/placement"
)

type fakeRingSource struct {
	ring *placement.Ring
}

func (f *fakeRingSource) Current() *placement.Ring { return f.ring }

func newTestEngine(r *LoadBalancerRouter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	r.Register(engine)
	return engine
}

func TestLoadBalancerResolveReturns503WhenRingUninitialized(t *testing.T) {
	r := NewLoadBalancerRouter(&fakeRingSource{})
	engine := newTestEngine(r)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/resolve?clientId=alice", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLoadBalancerResolveReturns400WithoutClientID(t *testing.T) {
	r := NewLoadBalancerRouter(&fakeRingSource{})
	engine := newTestEngine(r)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/resolve", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadBalancerResolveReturnsNode(t *testing.T) {
	ring, err := placement.Build([]placement.Candidate{{ID: "node-1", Weight: 100}}, 4, 8)
	require.NoError(t, err)

	r := NewLoadBalancerRouter(&fakeRingSource{ring: ring})
	engine := newTestEngine(r)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/connect?userId=alice", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "node-1")
}

func TestLoadBalancerHealthz(t *testing.T) {
	r := NewLoadBalancerRouter(&fakeRingSource{})
	engine := newTestEngine(r)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

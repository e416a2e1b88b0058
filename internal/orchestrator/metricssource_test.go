package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsSourceFetchDecodesTuples(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req metricsQueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"node-1", "node-2"}, req.NodeIDs)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]metricsQueryTuple{
			{NodeID: "node-1", CPU: 0.5, Mem: 0.4, LatencyMs: 100, BacklogMs: 10, Conn: 50},
		})
	}))
	defer srv.Close()

	src := NewHTTPMetricsSource(srv.URL)
	out, err := src.Fetch(context.Background(), []string{"node-1", "node-2"})
	require.NoError(t, err)
	require.Contains(t, out, "node-1")
	assert.Equal(t, 0.5, out["node-1"].CPU)
	assert.Equal(t, 50, out["node-1"].Conn)
}

func TestHTTPMetricsSourceFetchErrorsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTPMetricsSource(srv.URL)
	_, err := src.Fetch(context.Background(), []string{"node-1"})
	assert.Error(t, err)
}

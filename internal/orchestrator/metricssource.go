package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/streamspace/rtcmesh/internal/ring"
)

// MetricsQueryTimeout bounds a single scrape-fan-out round, grounded on
// the teacher's WebhookTimeout convention for outbound HTTP calls this
// plane doesn't control the other end of.
const MetricsQueryTimeout = 30 * time.Second

// HTTPMetricsSource implements ring.MetricsSource by POSTing the
// requested node IDs to an external metrics-query endpoint (e.g. one
// backed by a Prometheus federation query) and decoding a JSON array of
// per-node tuples. This is the default MetricsSource; NodeMetricsSource
// is the k8s.io/metrics fallback for environments without that endpoint.
type HTTPMetricsSource struct {
	url    string
	client *http.Client
}

// NewHTTPMetricsSource constructs an HTTPMetricsSource against url.
func NewHTTPMetricsSource(url string) *HTTPMetricsSource {
	return &HTTPMetricsSource{
		url: url,
		client: &http.Client{
			Timeout: MetricsQueryTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type metricsQueryRequest struct {
	NodeIDs []string `json:"nodeIds"`
}

type metricsQueryTuple struct {
	NodeID    string  `json:"nodeId"`
	CPU       float64 `json:"cpu"`
	Mem       float64 `json:"mem"`
	LatencyMs float64 `json:"latencyMs"`
	BacklogMs float64 `json:"backlogMs"`
	Conn      int     `json:"conn"`
}

// Fetch implements ring.MetricsSource.
func (s *HTTPMetricsSource) Fetch(ctx context.Context, nodeIDs []string) (map[string]ring.NodeMetrics, error) {
	body, err := json.Marshal(metricsQueryRequest{NodeIDs: nodeIDs})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: marshal metrics query request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build metrics query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: metrics query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("orchestrator: metrics query returned %d: %s", resp.StatusCode, string(data))
	}

	var tuples []metricsQueryTuple
	if err := json.NewDecoder(resp.Body).Decode(&tuples); err != nil {
		return nil, fmt.Errorf("orchestrator: decode metrics query response: %w", err)
	}

	out := make(map[string]ring.NodeMetrics, len(tuples))
	for _, t := range tuples {
		out[t.NodeID] = ring.NodeMetrics{
			CPU:       t.CPU,
			Mem:       t.Mem,
			LatencyMs: t.LatencyMs,
			BacklogMs: t.BacklogMs,
			Conn:      t.Conn,
		}
	}
	return out, nil
}

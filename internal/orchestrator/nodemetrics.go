package orchestrator

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/streamspace/rtcmesh/internal/logging"
	"github.com/streamspace/rtcmesh/internal/ring"
)

// NodeMetricsSource implements ring.MetricsSource by reading node CPU/Mem
// utilisation from the k8s.io/metrics API server, for deployments where
// the socket nodes don't expose a directly-scrapable metrics-query
// endpoint. Latency, backlog, and connection count aren't available from
// node metrics alone and are left at zero, which the load-score formula
// treats as "no contribution" for those terms.
type NodeMetricsSource struct {
	clientset     *kubernetes.Clientset
	metricsClient *metricsv.Clientset
	nodeNameByID  map[string]string
}

// NewNodeMetricsSource constructs a NodeMetricsSource. nodeNameByID maps
// this plane's logical node IDs to the underlying Kubernetes node object
// name, since the two aren't required to match.
func NewNodeMetricsSource(clientset *kubernetes.Clientset, metricsClient *metricsv.Clientset, nodeNameByID map[string]string) *NodeMetricsSource {
	return &NodeMetricsSource{clientset: clientset, metricsClient: metricsClient, nodeNameByID: nodeNameByID}
}

// Fetch implements ring.MetricsSource.
func (s *NodeMetricsSource) Fetch(ctx context.Context, nodeIDs []string) (map[string]ring.NodeMetrics, error) {
	nodeList, err := s.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list nodes: %w", err)
	}
	capacity := make(map[string]corev1.ResourceList, len(nodeList.Items))
	for _, n := range nodeList.Items {
		capacity[n.Name] = n.Status.Allocatable
	}

	metricsList, err := s.metricsClient.MetricsV1beta1().NodeMetricses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list node metrics: %w", err)
	}
	usage := make(map[string]corev1.ResourceList, len(metricsList.Items))
	for _, m := range metricsList.Items {
		usage[m.Name] = m.Usage
	}

	out := make(map[string]ring.NodeMetrics, len(nodeIDs))
	for _, id := range nodeIDs {
		nodeName := s.nodeNameByID[id]
		if nodeName == "" {
			nodeName = id
		}
		cap, capOK := capacity[nodeName]
		use, useOK := usage[nodeName]
		if !capOK || !useOK {
			logging.Orchestrator().Warn().Str("nodeId", id).Str("k8sNode", nodeName).Msg("no node metrics available, reporting zero load")
			out[id] = ring.NodeMetrics{}
			continue
		}
		out[id] = ring.NodeMetrics{
			CPU: fraction(use[corev1.ResourceCPU], cap[corev1.ResourceCPU]),
			Mem: fraction(use[corev1.ResourceMemory], cap[corev1.ResourceMemory]),
		}
	}
	return out, nil
}

func fraction(used, total resource.Quantity) float64 {
	totalVal := total.AsApproximateFloat64()
	if totalVal <= 0 {
		return 0
	}
	return used.AsApproximateFloat64() / totalVal
}

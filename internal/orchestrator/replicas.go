package orchestrator

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/streamspace/rtcmesh/internal/logging"
)

// DeploymentScaler mutates a Kubernetes Deployment's desired replica count,
// implementing internal/scaling.Orchestrator. Grounded on the teacher's
// scaleKubernetesDeployment handler, minus its Postgres audit-trail write
// (there is no equivalent durable store wired into this plane).
type DeploymentScaler struct {
	clientset      *kubernetes.Clientset
	namespace      string
	deploymentName string
	minReplicas    int32
}

// NewDeploymentScaler constructs a DeploymentScaler for one Deployment.
func NewDeploymentScaler(clientset *kubernetes.Clientset, namespace, deploymentName string, minReplicas int32) *DeploymentScaler {
	return &DeploymentScaler{clientset: clientset, namespace: namespace, deploymentName: deploymentName, minReplicas: minReplicas}
}

// SetReplicas adds delta to the deployment's current replica count,
// clamped to minReplicas, and updates the Deployment in place.
func (d *DeploymentScaler) SetReplicas(ctx context.Context, delta int) error {
	deployments := d.clientset.AppsV1().Deployments(d.namespace)

	deployment, err := deployments.Get(ctx, d.deploymentName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("orchestrator: get deployment %s: %w", d.deploymentName, err)
	}

	current := int32(0)
	if deployment.Spec.Replicas != nil {
		current = *deployment.Spec.Replicas
	}

	target := current + int32(delta)
	if target < d.minReplicas {
		target = d.minReplicas
	}
	deployment.Spec.Replicas = &target

	if _, err := deployments.Update(ctx, deployment, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("orchestrator: scale deployment %s from %d to %d: %w", d.deploymentName, current, target, err)
	}

	logging.Orchestrator().Info().
		Str("deployment", d.deploymentName).
		Int32("from", current).
		Int32("to", target).
		Msg("scaled deployment replica count")
	return nil
}

// evictionCostAnnotation is the standard Kubernetes pod-deletion-cost
// annotation key; pods with a lower cost are removed first when their
// ReplicaSet scales down.
const evictionCostAnnotation = "controller.kubernetes.io/pod-deletion-cost"

// AnnotateEvictionCost patches podName's deletion-cost annotation to cost.
// Nothing in this repository calls it: the scaling engine conveys its
// scale-in node choice only through DrainSignal.
func AnnotateEvictionCost(ctx context.Context, clientset *kubernetes.Clientset, namespace, podName string, cost int) error {
	patch := fmt.Sprintf(`{"metadata":{"annotations":{%q:%q}}}`, evictionCostAnnotation, fmt.Sprintf("%d", cost))
	_, err := clientset.CoreV1().Pods(namespace).Patch(ctx, podName, types.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("orchestrator: annotate eviction cost for pod %s: %w", podName, err)
	}
	return nil
}

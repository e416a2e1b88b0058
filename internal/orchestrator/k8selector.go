package orchestrator

import (
	"context"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/streamspace/rtcmesh/internal/logging"
)

// K8sElectorConfig parameterises a K8sElector. LeaseDuration, RenewDeadline,
// and RetryPeriod default to 15s/10s/2s, the same cadence as the teacher's
// agent HA leader elector.
type K8sElectorConfig struct {
	LockName      string
	Namespace     string
	Identity      string
	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration
}

// DefaultK8sElectorConfig fills LockName/Namespace/Identity and the
// 15s/10s/2s lease cadence.
func DefaultK8sElectorConfig(lockName, namespace, identity string) K8sElectorConfig {
	return K8sElectorConfig{
		LockName:      lockName,
		Namespace:     namespace,
		Identity:      identity,
		LeaseDuration: 15 * time.Second,
		RenewDeadline: 10 * time.Second,
		RetryPeriod:   2 * time.Second,
	}
}

// K8sElector wraps client-go's leaderelection over a Lease object, for
// deployments that prefer the cluster's native lease mechanism over the
// KV-backed Elector.
type K8sElector struct {
	cfg        K8sElectorConfig
	clientset  *kubernetes.Clientset
	onBecomeLeader   func()
	onLoseLeadership func()
}

// NewK8sElector constructs a K8sElector bound to clientset.
func NewK8sElector(clientset *kubernetes.Clientset, cfg K8sElectorConfig) *K8sElector {
	return &K8sElector{cfg: cfg, clientset: clientset}
}

// OnBecomeLeader and OnLoseLeadership register transition callbacks. Must
// be set before Run.
func (k *K8sElector) OnBecomeLeader(fn func())   { k.onBecomeLeader = fn }
func (k *K8sElector) OnLoseLeadership(fn func()) { k.onLoseLeadership = fn }

// Run blocks until ctx is canceled, running the leader election loop and
// invoking the registered callbacks on every transition.
func (k *K8sElector) Run(ctx context.Context) error {
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      k.cfg.LockName,
			Namespace: k.cfg.Namespace,
		},
		Client: k.clientset.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: k.cfg.Identity,
		},
	}

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   k.cfg.LeaseDuration,
		RenewDeadline:   k.cfg.RenewDeadline,
		RetryPeriod:     k.cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(context.Context) {
				logging.Orchestrator().Info().Str("identity", k.cfg.Identity).Msg("became leader")
				if k.onBecomeLeader != nil {
					k.onBecomeLeader()
				}
			},
			OnStoppedLeading: func() {
				logging.Orchestrator().Warn().Str("identity", k.cfg.Identity).Msg("lost leadership")
				if k.onLoseLeadership != nil {
					k.onLoseLeadership()
				}
			},
			OnNewLeader: func(identity string) {
				logging.Orchestrator().Info().Str("leader", identity).Msg("leader observed")
			},
		},
	})
	if err != nil {
		return err
	}

	elector.Run(ctx)
	return nil
}

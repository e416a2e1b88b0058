// Package config loads and validates the environment-variable
// configuration shared by the socketnode and loadbalancer binaries.
package config

import (
	"os"
	"strconv"
	"time"

	rtcerrors "github.com/streamspace/rtcmesh/internal/errors"
)

// Config holds every tunable named in the environment variable surface.
// Not every binary uses every field; socketnode and loadbalancer each read
// the subset relevant to them.
type Config struct {
	// NodeID is this process's cluster-unique identifier.
	// Env: NODE_ID (required).
	NodeID string

	// HTTPPort is the port the HTTP surface listens on.
	// Env: HTTP_PORT (default 8080).
	HTTPPort string

	// KafkaBootstrap is the log bus bootstrap address list.
	// Env: KAFKA_BOOTSTRAP (required).
	KafkaBootstrap string

	// RedisURL is the KV store connection string.
	// Env: REDIS_URL (required).
	RedisURL string

	// BufferMax is W, the MAXLEN cap on a client's replay stream.
	// Env: BUFFER_MAX (default 200).
	BufferMax int64

	// ResumeTTLSec bounds both the replay window and the session record TTL.
	// Env: RESUME_TTL_SEC (default 3600).
	ResumeTTLSec int

	// PerConnBufferSize is the capacity of a session's outbound sink.
	// Env: PER_CONN_BUFFER_SIZE (default 100).
	PerConnBufferSize int

	// PingInterval is the write-idle threshold before a control ping.
	// Env: PING_INTERVAL (default 10s).
	PingInterval time.Duration

	// IdleTimeout is the read-idle threshold before the socket is closed.
	// Env: IDLE_TIMEOUT (default 20s).
	IdleTimeout time.Duration

	// Alpha..Delta are the weight-calculation load-score coefficients.
	// Env: ALPHA, BETA, GAMMA, DELTA (defaults 0.4, 0.4, 0.1, 0.05; the
	// fifth connection-count coefficient is fixed at 1-Alpha-Beta-Gamma-Delta).
	Alpha, Beta, Gamma, Delta float64

	// LatencySLOMs is L_SLO in the scaling decision policy.
	// Env: L_SLO_MS (default 250).
	LatencySLOMs float64

	// ScalingIntervalSec is the ring manager's scan period.
	// Env: SCALING_INTERVAL_SEC (default 20).
	ScalingIntervalSec int

	// MaxScaleStep caps the amplified scale-out step.
	// Env: MAX_SCALE_STEP (default 5).
	MaxScaleStep int

	// HeartbeatGraceSec is the liveness-hash eviction grace window.
	// Env: HEARTBEAT_GRACE_SEC (default 30).
	HeartbeatGraceSec int

	// PrometheusHost/Port are loaded but not used by either binary; /metrics
	// is served on each binary's main HTTP server.
	// Env: PROMETHEUS_HOST, PROMETHEUS_PORT.
	PrometheusHost string
	PrometheusPort string

	// ResumeTokenSecret is the key for optional resume tokens; neither
	// binary issues or verifies tokens, so it is loaded but not used.
	// Env: RESUME_TOKEN_SECRET.
	ResumeTokenSecret string

	// OrchestratorMode selects the load balancer's leader-election and
	// replica-mutation strategy: "kv" (lease in the KV store, no cluster
	// credentials needed) or "k8s" (client-go leader election plus
	// Deployment replica mutation).
	// Env: ORCHESTRATOR_MODE (default "kv").
	OrchestratorMode string

	// MetricsQueryURL is the HTTP metrics-query endpoint the "kv" mode
	// ring manager fetches per-node tuples from.
	// Env: METRICS_QUERY_URL.
	MetricsQueryURL string

	// LeaderLeaseName names the lease/lock both orchestrator modes contend
	// for.
	// Env: LEADER_LEASE_NAME (default "rtcmesh-loadbalancer").
	LeaderLeaseName string

	// K8sNamespace and K8sDeploymentName identify the Deployment the "k8s"
	// mode scales and the Lease it elects a leader through.
	// Env: K8S_NAMESPACE (default "default"), K8S_DEPLOYMENT_NAME (default
	// "rtcmesh-socketnode").
	K8sNamespace      string
	K8sDeploymentName string

	// K8sMinReplicas floors the "k8s" mode's replica mutation.
	// Env: K8S_MIN_REPLICAS (default 2).
	K8sMinReplicas int32
}

// FromEnv reads every recognised variable, applying defaults for anything
// unset, then validates required fields.
func FromEnv() (*Config, error) {
	c := &Config{
		NodeID:            os.Getenv("NODE_ID"),
		HTTPPort:          getEnvOrDefault("HTTP_PORT", "8080"),
		KafkaBootstrap:    os.Getenv("KAFKA_BOOTSTRAP"),
		RedisURL:          os.Getenv("REDIS_URL"),
		BufferMax:         getEnvInt64OrDefault("BUFFER_MAX", 200),
		ResumeTTLSec:      getEnvIntOrDefault("RESUME_TTL_SEC", 3600),
		PerConnBufferSize: getEnvIntOrDefault("PER_CONN_BUFFER_SIZE", 100),
		PingInterval:      getEnvDurationOrDefault("PING_INTERVAL", 10*time.Second),
		IdleTimeout:       getEnvDurationOrDefault("IDLE_TIMEOUT", 20*time.Second),
		Alpha:             getEnvFloatOrDefault("ALPHA", 0.4),
		Beta:              getEnvFloatOrDefault("BETA", 0.4),
		Gamma:             getEnvFloatOrDefault("GAMMA", 0.1),
		Delta:             getEnvFloatOrDefault("DELTA", 0.05),
		LatencySLOMs:      getEnvFloatOrDefault("L_SLO_MS", 250),

		ScalingIntervalSec: getEnvIntOrDefault("SCALING_INTERVAL_SEC", 20),
		MaxScaleStep:       getEnvIntOrDefault("MAX_SCALE_STEP", 5),
		HeartbeatGraceSec:  getEnvIntOrDefault("HEARTBEAT_GRACE_SEC", 30),
		PrometheusHost:     getEnvOrDefault("PROMETHEUS_HOST", "0.0.0.0"),
		PrometheusPort:     getEnvOrDefault("PROMETHEUS_PORT", "9090"),
		ResumeTokenSecret:  os.Getenv("RESUME_TOKEN_SECRET"),

		OrchestratorMode:  getEnvOrDefault("ORCHESTRATOR_MODE", "kv"),
		MetricsQueryURL:   os.Getenv("METRICS_QUERY_URL"),
		LeaderLeaseName:   getEnvOrDefault("LEADER_LEASE_NAME", "rtcmesh-loadbalancer"),
		K8sNamespace:      getEnvOrDefault("K8S_NAMESPACE", "default"),
		K8sDeploymentName: getEnvOrDefault("K8S_DEPLOYMENT_NAME", "rtcmesh-socketnode"),
		K8sMinReplicas:    int32(getEnvIntOrDefault("K8S_MIN_REPLICAS", 2)),
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks required fields and fills any remaining zero-value
// defaults that FromEnv's getEnv helpers could not (e.g. after manual
// struct construction in tests).
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return rtcerrors.ErrMissingNodeID
	}
	if c.RedisURL == "" {
		return rtcerrors.ErrMissingKVAddr
	}
	if c.KafkaBootstrap == "" {
		return rtcerrors.ErrMissingBusAddr
	}
	if c.HTTPPort == "" {
		c.HTTPPort = "8080"
	}
	if c.BufferMax <= 0 {
		c.BufferMax = 200
	}
	if c.ResumeTTLSec <= 0 {
		c.ResumeTTLSec = 3600
	}
	if c.PerConnBufferSize <= 0 {
		c.PerConnBufferSize = 100
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 20 * time.Second
	}
	if c.ScalingIntervalSec <= 0 {
		c.ScalingIntervalSec = 20
	}
	if c.MaxScaleStep <= 0 {
		c.MaxScaleStep = 5
	}
	if c.HeartbeatGraceSec <= 0 {
		c.HeartbeatGraceSec = 30
	}
	if c.OrchestratorMode == "" {
		c.OrchestratorMode = "kv"
	}
	if c.LeaderLeaseName == "" {
		c.LeaderLeaseName = "rtcmesh-loadbalancer"
	}
	if c.K8sNamespace == "" {
		c.K8sNamespace = "default"
	}
	if c.K8sDeploymentName == "" {
		c.K8sDeploymentName = "rtcmesh-socketnode"
	}
	if c.K8sMinReplicas <= 0 {
		c.K8sMinReplicas = 2
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvInt64OrDefault(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloatOrDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return n
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		n, err2 := strconv.Atoi(v)
		if err2 != nil {
			return def
		}
		return time.Duration(n) * time.Second
	}
	return d
}

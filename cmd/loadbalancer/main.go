package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/client-go/kubernetes"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/streamspace/rtcmesh/internal/bus"
	"github.com/streamspace/rtcmesh/internal/config"
	"github.com/streamspace/rtcmesh/internal/httpapi"
	"github.com/streamspace/rtcmesh/internal/kvstore"
	"github.com/streamspace/rtcmesh/internal/logging"
	"github.com/streamspace/rtcmesh/internal/orchestrator"
	"github.com/streamspace/rtcmesh/internal/ring"
	"github.com/streamspace/rtcmesh/internal/scaling"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// aggregateInputs reduces the per-node metric tuples the ring manager
// just fetched into the single aggregated vector the scaling engine's
// decision table runs over. Messages-per-second has no equivalent in
// ring.NodeMetrics (CPU/Mem/latency/backlog/connection count), so the
// message-rate terms are left at zero and the message-rate row never
// fires. ConnPerCPU is also left at zero, so the connection row fires
// whenever AvgConn exceeds ConnHigh.
func aggregateInputs(metrics map[string]ring.NodeMetrics) scaling.Inputs {
	n := len(metrics)
	if n == 0 {
		return scaling.Inputs{}
	}
	var cpu, mem, lat, backlog, maxCPU, maxMem float64
	var conn int
	for _, m := range metrics {
		cpu += m.CPU
		mem += m.Mem
		lat += m.LatencyMs
		backlog += m.BacklogMs
		conn += m.Conn
		if m.CPU > maxCPU {
			maxCPU = m.CPU
		}
		if m.Mem > maxMem {
			maxMem = m.Mem
		}
	}
	return scaling.Inputs{
		AvgCPU:       cpu / float64(n),
		AvgMem:       mem / float64(n),
		MaxCPU:       maxCPU,
		MaxMem:       maxMem,
		AvgLatencyMs: lat / float64(n),
		AvgBacklogMs: backlog / float64(n),
		AvgConn:      float64(conn) / float64(n),
		NodeCount:    n,
	}
}

// main wires the load balancer: every replica resolves client placement
// off the installed ring for /api/v1/resolve, while only the elected
// leader runs the ring-weight scan and the scaling decision loop.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logging.Initialize("loadbalancer", getEnv("LOG_LEVEL", "info"), getEnv("LOG_PRETTY", "false") == "true")
	logger := logging.Log

	store, err := kvstore.NewRedisStore(kvstore.RedisConfig{URL: cfg.RedisURL})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer store.Close()

	natsBus, err := bus.NewNATSBus(bus.Config{URL: cfg.KafkaBootstrap})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to log bus")
	}
	defer natsBus.Close()

	installer := ring.NewInstaller(4, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := installer.Run(ctx, natsBus, cfg.NodeID); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("ring installer subscription stopped")
		}
	}()

	// Leader-only loops: the ring weight scan and the scaling decision
	// engine. Only one of the replica set's processes runs these at a
	// time, gated by whichever orchestrator mode is configured below.
	var leaderMu sync.Mutex
	var leaderCancel context.CancelFunc

	startLeading := func(ringManager *ring.Manager) {
		leaderMu.Lock()
		defer leaderMu.Unlock()
		if leaderCancel != nil {
			return
		}
		var leaderCtx context.Context
		leaderCtx, leaderCancel = context.WithCancel(ctx)
		logger.Info().Msg("acquired leadership, starting ring manager")
		go ringManager.Run(leaderCtx)
	}
	stopLeading := func() {
		leaderMu.Lock()
		defer leaderMu.Unlock()
		if leaderCancel != nil {
			logger.Warn().Msg("lost leadership, stopping ring manager")
			leaderCancel()
			leaderCancel = nil
		}
	}

	scaleThresholds := scaling.DefaultThresholds()
	scaleThresholds.LatencySLOMs = cfg.LatencySLOMs

	scaleEngine := scaling.NewEngine(natsBus, nil)
	scaleEngine.SetThresholds(scaleThresholds)
	scaleEngine.SetMaxScaleOut(cfg.MaxScaleStep)
	weightCfg := ring.WeightConfigFromCoefficients(cfg.Alpha, cfg.Beta, cfg.Gamma, cfg.Delta)

	var metricsSource ring.MetricsSource
	var k8sClientset *kubernetes.Clientset

	switch cfg.OrchestratorMode {
	case "k8s":
		restCfg, err := orchestrator.LoadKubernetesConfig()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load kubernetes config")
		}
		k8sClientset, err = kubernetes.NewForConfig(restCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build kubernetes clientset")
		}
		metricsClient, err := metricsv.NewForConfig(restCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build kubernetes metrics clientset")
		}
		metricsSource = orchestrator.NewNodeMetricsSource(k8sClientset, metricsClient, nil)

		scaler := orchestrator.NewDeploymentScaler(k8sClientset, cfg.K8sNamespace, cfg.K8sDeploymentName, cfg.K8sMinReplicas)
		scaleEngine = scaling.NewEngine(natsBus, scaler)
		scaleEngine.SetThresholds(scaleThresholds)
		scaleEngine.SetMaxScaleOut(cfg.MaxScaleStep)

		ringManager := ring.NewManager(store, natsBus, metricsSource, func(ctx context.Context, nodeIDs []string, m map[string]ring.NodeMetrics, weights map[string]int) {
			if err := scaleEngine.Evaluate(ctx, aggregateInputs(m), weights); err != nil {
				logger.Error().Err(err).Msg("scaling evaluation failed")
			}
		})
		ringManager.SetWeightConfig(weightCfg)
		ringManager.SetScanInterval(time.Duration(cfg.ScalingIntervalSec) * time.Second)

		k8sElector := orchestrator.NewK8sElector(k8sClientset, orchestrator.DefaultK8sElectorConfig(cfg.LeaderLeaseName, cfg.K8sNamespace, cfg.NodeID))
		k8sElector.OnBecomeLeader(func() { startLeading(ringManager) })
		k8sElector.OnLoseLeadership(stopLeading)
		go func() {
			if err := k8sElector.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("kubernetes leader election stopped")
			}
		}()

	default:
		if cfg.MetricsQueryURL == "" {
			logger.Fatal().Msg("METRICS_QUERY_URL is required in kv orchestrator mode")
		}
		metricsSource = orchestrator.NewHTTPMetricsSource(cfg.MetricsQueryURL)

		ringManager := ring.NewManager(store, natsBus, metricsSource, func(ctx context.Context, nodeIDs []string, m map[string]ring.NodeMetrics, weights map[string]int) {
			if err := scaleEngine.Evaluate(ctx, aggregateInputs(m), weights); err != nil {
				logger.Error().Err(err).Msg("scaling evaluation failed")
			}
		})
		ringManager.SetWeightConfig(weightCfg)
		ringManager.SetScanInterval(time.Duration(cfg.ScalingIntervalSec) * time.Second)

		kvElector := orchestrator.NewElector(store, cfg.LeaderLeaseName, cfg.NodeID)
		kvElector.OnBecomeLeader(func() { startLeading(ringManager) })
		kvElector.OnLoseLeadership(stopLeading)
		go kvElector.Run(ctx)
	}

	lbRouter := httpapi.NewLoadBalancerRouter(installer)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	lbRouter.Register(engine)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           engine,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("mode", cfg.OrchestratorMode).Msg("load balancer HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	shutdownTimeout := 30 * time.Second
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			shutdownTimeout = d
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server forced to shutdown")
	} else {
		logger.Info().Msg("HTTP server stopped gracefully")
	}

	cancel()
	logger.Info().Msg("load balancer shutdown complete")
}

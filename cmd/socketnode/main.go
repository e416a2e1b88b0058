package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/rtcmesh/internal/bus"
	"github.com/streamspace/rtcmesh/internal/config"
	"github.com/streamspace/rtcmesh/internal/drain"
	"github.com/streamspace/rtcmesh/internal/heartbeat"
	"github.com/streamspace/rtcmesh/internal/httpapi"
	"github.com/streamspace/rtcmesh/internal/kvstore"
	"github.com/streamspace/rtcmesh/internal/logging"
	"github.com/streamspace/rtcmesh/internal/placement"
	"github.com/streamspace/rtcmesh/internal/relay"
	"github.com/streamspace/rtcmesh/internal/ring"
	"github.com/streamspace/rtcmesh/internal/session"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// main wires a socket node: the front door that accepts client WebSocket
// upgrades, relays envelopes to whichever node owns the recipient, and
// follows the leader's ring and drain broadcasts.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logging.Initialize("socketnode", getEnv("LOG_LEVEL", "info"), getEnv("LOG_PRETTY", "false") == "true")
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

	resumeTTL := time.Duration(cfg.ResumeTTLSec) * time.Second
	sessions := session.NewManager(cfg.NodeID, store, cfg.BufferMax, resumeTTL, cfg.PerConnBufferSize)

	router := relay.New(cfg.NodeID, natsBus, store, sessions, cfg.BufferMax)
	drainCtl := drain.NewController(cfg.NodeID, sessions, drain.DefaultWindow, drain.DefaultBatchInterval)
	redistributor := drain.NewRedistributor(cfg.NodeID, sessions, drainCtl)

	// Every RingUpdate feeds the relay router's placement snapshot and the
	// redistributor's gradual-close planner off the same installed ring.
	installer := ring.NewInstaller(4, 8, func(r *placement.Ring) {
		router.InstallRing(r)
		redistributor.OnRingUpdate(r)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := installer.Run(ctx, natsBus, cfg.NodeID); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("ring installer subscription stopped")
		}
	}()

	go func() {
		if err := router.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("relay router stopped")
		}
	}()

	go func() {
		if err := drain.Subscriber(ctx, natsBus, cfg.NodeID, drainCtl); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("drain subscriber stopped")
		}
	}()

	emitter := heartbeat.NewEmitter(cfg.NodeID, store, heartbeat.DefaultInterval, time.Duration(cfg.HeartbeatGraceSec)*time.Second)
	go emitter.Run(ctx)

	httpCfg := httpapi.SocketNodeConfig{
		NodeID:    cfg.NodeID,
		WriteWait: cfg.PingInterval,
		IdleRead:  cfg.IdleTimeout,
	}
	socketRouter := httpapi.NewSocketNodeRouter(httpCfg, sessions, router, drainCtl)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	socketRouter.Register(engine)

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
		logger.Info().Str("addr", srv.Addr).Msg("socket node HTTP server listening")
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

	// Drain before closing the listener so in-flight upgrades still see a
	// 503 rather than a connection refusal during rollout.
	drainCtl.Start(shutdownCtx, "node shutdown")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server forced to shutdown")
	} else {
		logger.Info().Msg("HTTP server stopped gracefully")
	}

	cancel()
	logger.Info().Msg("socket node shutdown complete")
}

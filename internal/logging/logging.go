// Package logging wires up the process-wide zerolog logger and hands out
// component-scoped sub-loggers so every subsystem tags its lines the same
// way.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide base logger. Initialize must run before any
// component logger is taken from it.
var Log zerolog.Logger

// Initialize configures the global logger. service names the binary
// ("socketnode" or "loadbalancer") so multiplexed log aggregation can tell
// the two process kinds apart.
func Initialize(service, level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", service).Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Session returns the sub-logger for the session/buffer engine.
func Session() *zerolog.Logger { return component("session") }

// Relay returns the sub-logger for the two-hop relay router.
func Relay() *zerolog.Logger { return component("relay") }

// Ring returns the sub-logger for the ring manager.
func Ring() *zerolog.Logger { return component("ring") }

// Scaling returns the sub-logger for the scaling engine.
func Scaling() *zerolog.Logger { return component("scaling") }

// Drain returns the sub-logger for drain/redistribution.
func Drain() *zerolog.Logger { return component("drain") }

// Heartbeat returns the sub-logger for heartbeat emission/collection.
func Heartbeat() *zerolog.Logger { return component("heartbeat") }

// Orchestrator returns the sub-logger for the orchestrator collaborator.
func Orchestrator() *zerolog.Logger { return component("orchestrator") }

// HTTP returns the sub-logger for the HTTP surface.
func HTTP() *zerolog.Logger { return component("http") }

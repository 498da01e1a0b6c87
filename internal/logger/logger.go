// Package logger provides the process-wide structured logger for horizond.
//
// Initialize must be called once at startup; no package-level state is
// created implicitly on first use. Component loggers attach a "component"
// field so log aggregation can filter per subsystem.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance, valid only after Initialize.
var Log zerolog.Logger

// Initialize configures the global logger. level is any zerolog level name
// ("debug", "info", "warn", "error"); pretty selects a human-readable console
// writer instead of JSON (for local development).
func Initialize(level string, pretty bool) {
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

	Log = log.With().Str("service", "horizond").Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// Teardown is the explicit counterpart to Initialize; stdout writers need no
// flush today but callers should call it at shutdown rather than rely on
// process exit.
func Teardown() {}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// Bus returns a logger scoped to the event bus component.
func Bus() *zerolog.Logger {
	l := Log.With().Str("component", "eventbus").Logger()
	return &l
}

// Gorc returns a logger scoped to GORC (instances, zone index, scheduler).
func Gorc() *zerolog.Logger {
	l := Log.With().Str("component", "gorc").Logger()
	return &l
}

// PluginHost returns a logger scoped to the plugin host.
func PluginHost() *zerolog.Logger {
	l := Log.With().Str("component", "pluginhost").Logger()
	return &l
}

// Router returns a logger scoped to the message router.
func Router() *zerolog.Logger {
	l := Log.With().Str("component", "router").Logger()
	return &l
}

// Net returns a logger scoped to the websocket transport.
func Net() *zerolog.Logger {
	l := Log.With().Str("component", "wsnet").Logger()
	return &l
}

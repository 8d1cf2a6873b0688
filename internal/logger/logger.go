// Package logger provides the engine's structured logging setup.
//
// A single process-wide zerolog logger is configured at startup
// (Initialize); every component (source/query/reaction) gets its own
// child logger via ForComponent, tagged with its kind and id so log lines
// can be filtered per component the way the control plane's
// ComponentLogRegistry (internal/observability) does.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide base logger. Until Initialize replaces it, it
// writes JSON lines to stderr, so component loggers and their hooks are
// live even when Initialize is never called (as in package tests).
var Log = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Initialize sets up the global logger with configuration.
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

	Log = log.With().
		Str("service", "drasi-server").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// ForComponent returns a logger scoped to one engine component, tagged
// with its kind and id. Extra hooks (e.g. a ring-buffer sink from
// internal/observability) are attached so log lines also reach the
// component's ComponentLogRegistry.
func ForComponent(kind, id string, hooks ...zerolog.Hook) zerolog.Logger {
	l := Log.With().
		Str("component_kind", kind).
		Str("component_id", id).
		Logger()
	for _, h := range hooks {
		l = l.Hook(h)
	}
	return l
}

// Registry creates a logger for the PluginRegistry.
func Registry() *zerolog.Logger {
	l := Log.With().Str("component", "registry").Logger()
	return &l
}

// Persistence creates a logger for ConfigPersistence.
func Persistence() *zerolog.Logger {
	l := Log.With().Str("component", "persistence").Logger()
	return &l
}

// HTTP creates a logger for the REST control plane.
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}

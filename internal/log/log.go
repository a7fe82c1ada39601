// Package log provides structured logging for the Manager using zerolog.
//
// It mirrors the logging conventions of the wider stack it was pulled
// from: a process-wide logger initialized once via Init, plus
// component-scoped child loggers handed out by With* helpers. Unlike a
// pure global-state logger, every internal package also accepts a
// zerolog.Logger at construction time, so tests and embedders can supply
// their own sink instead of reaching for package state.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, set by Init.
var Logger zerolog.Logger

// Level is a logging severity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with a component field.
// cmd/tmgr uses it to build the logger it hands to the internal
// packages, which take that logger at construction time rather than
// reading Logger directly.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithWorker returns a child logger tagged with a worker id field.
func WithWorker(logger zerolog.Logger, workerID string) zerolog.Logger {
	return logger.With().Str("worker_id", workerID).Logger()
}

// WithTask returns a child logger tagged with task id and type fields.
func WithTask(logger zerolog.Logger, taskID, taskType string) zerolog.Logger {
	return logger.With().Str("task_id", taskID).Str("task_type", taskType).Logger()
}

// Package arhivlog configures the process-wide structured logger used by
// every core component (storage, state, manager, merge expert, ...).
package arhivlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents a log level.
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

func init() {
	// Sensible default so packages that forget to call Init (e.g. tests)
	// still get usable output instead of a discarded logger.
	Init(Config{Level: InfoLevel})
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

// WithComponent creates a child logger scoped to a core component
// ("storage", "state", "manager", "merge-expert", ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithInstance creates a child logger scoped to an instance id.
func WithInstance(instanceID string) zerolog.Logger {
	return Logger.With().Str("instance_id", instanceID).Logger()
}

// WithDocumentID creates a child logger scoped to a document id.
func WithDocumentID(id string) zerolog.Logger {
	return Logger.With().Str("document_id", id).Logger()
}

func Info(msg string) { Logger.Info().Msg(msg) }

func Debug(msg string) { Logger.Debug().Msg(msg) }

func Warn(msg string) { Logger.Warn().Msg(msg) }

func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) { Logger.Error().Err(err).Msg(format) }

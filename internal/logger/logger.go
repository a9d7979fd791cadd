package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var logger = zerolog.Nop()

// Init configures the global level and the process logger. Console output
// is used unless format is "json".
func Init(level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if format == "json" {
		out = os.Stdout
	}
	log.Logger = log.Output(out)
	zerolog.SetGlobalLevel(ParseLevel(level))

	logger = log.With().Caller().Str("service", "chainpay").Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func GetLogger() *zerolog.Logger {
	return &logger
}

// Component returns a child logger tagged with the component name.
func Component(name string) *zerolog.Logger {
	l := logger.With().Str("component", name).Logger()
	return &l
}

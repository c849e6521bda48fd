package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the global zerolog logger with the given level and output format.
// Unknown levels fall back to info.
func InitLogger(level string, human bool) {
	InitLoggerTo(os.Stderr, level, human)
}

// InitLoggerTo is InitLogger writing to w.
func InitLoggerTo(w io.Writer, level string, human bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	base := zerolog.New(w).With().Timestamp().Logger()
	if human {
		log.Logger = base.Output(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339Nano,
		})
	} else {
		log.Logger = base
	}
	zerolog.SetGlobalLevel(ParseLevel(level))
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// IsHuman reports whether format selects console output.
func IsHuman(format string) bool {
	switch strings.ToLower(format) {
	case "human", "console", "text":
		return true
	default:
		return false
	}
}

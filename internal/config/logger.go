package config

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// InitLogger sets the global level and returns the service logger. An
// unrecognized MELI_LOG_LEVEL falls back to info rather than silencing
// the service.
func InitLogger(level string) zerolog.Logger {
	parsedLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsedLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(parsedLevel)

	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "meli-manager").
		Logger()
}

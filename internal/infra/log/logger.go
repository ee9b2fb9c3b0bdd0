package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger создаёт настроенный zerolog: debug в dev, консольный вывод при LOG_PRETTY.
func NewLogger(appEnv string) zerolog.Logger {
	return newLogger(appEnv, os.Getenv("LOG_PRETTY") == "true", os.Stdout)
}

func newLogger(appEnv string, pretty bool, out io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "dev" {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Str("app", "content-autopilot").Logger().Level(level)
}

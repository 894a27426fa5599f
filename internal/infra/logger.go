package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs a zerolog.Logger for one binary. Development gets a
// console writer at debug level; everything else logs JSON at info level.
// LOG_LEVEL, when set, overrides the level.
func NewLogger(appEnv, service string) zerolog.Logger {
	return newLogger(os.Stdout, appEnv, service, os.Getenv("LOG_LEVEL"))
}

func newLogger(out io.Writer, appEnv, service, levelOverride string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelOverride))); err == nil && levelOverride != "" {
		level = parsed
	}

	if appEnv == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if service != "" {
		ctx = ctx.Str("service", service)
	}
	return ctx.Logger()
}

// Logger aliases the zerolog.Logger so callers outside the infra package can
// depend on the logging contract without importing the third-party module
// directly.
type Logger = zerolog.Logger

package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogging installs the global zerolog logger. format is json or console.
func ConfigureLogging(level, format string, out io.Writer) error {
	if out == nil {
		out = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return fmt.Errorf("invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	default:
		return fmt.Errorf("invalid log format %q (expected json|console)", format)
	}
	zerolog.DurationFieldUnit = time.Millisecond
	log.Logger = zerolog.New(out).With().Timestamp().Str("app", "verbalease").Logger()
	return nil
}

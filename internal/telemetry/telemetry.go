// Package telemetry configures the process-wide zerolog logger, mirroring
// go-core-stack/mcp-auth-proxy's main.go: an RFC3339Nano timestamp format
// and a level parsed from CLI/config input, fatal on an invalid level.
package telemetry

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure sets the global zerolog level and writer. debug, when true,
// wins over levelName (spec §6's --debug/--log-level precedence).
func Configure(levelName string, debug bool) error {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return nil
	}
	if levelName == "" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return nil
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("telemetry: invalid log level %q: %w", levelName, err)
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

// Component returns a child logger tagged with its owning component, the
// way every SPEC_FULL.md package identifies its log lines.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Package logging configures the structured logger shared by every
// subsystem. It is grounded on the teacher repo's stdout/stderr separation
// (internal/cli/output.go in arcsign writes JSON to stdout, human logs to
// stderr) generalized with github.com/rs/zerolog, the structured logger
// carried over from the vocdoni-davinci-node example's dependency stack, in
// place of the teacher's bare fmt.Printf calls.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the root logger for the process. level is one of
// "debug"|"info"|"warn"|"error" (config key log.level); format "console"
// renders human-readable lines, anything else (including "json", the
// default) emits newline-delimited JSON suitable for a log sink.
func New(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var out io.Writer = os.Stderr
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	logger = logger.Level(parseLevel(level))
	return logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a sub-logger tagged with the subsystem name, so every
// admission/expiry/syncengine log line is filterable by component without
// each package constructing its own zerolog.Context.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger. It writes colored console output to
// stderr until Setup is called.
var Log zerolog.Logger

// Output formats accepted by Setup
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

func init() {
	Log = newLogger(os.Stderr, FormatConsole)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func newLogger(w io.Writer, format string) zerolog.Logger {
	if format == FormatJSON {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		return zerolog.New(w).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// Setup replaces Log with one writing format to w. Call it before any
// goroutine logs.
func Setup(w io.Writer, format string) error {
	if err := ValidateFormat(format); err != nil {
		return err
	}
	Log = newLogger(w, strings.ToLower(format))
	return nil
}

// ValidateFormat accepts "console", "json" or empty (console)
func ValidateFormat(format string) error {
	switch strings.ToLower(format) {
	case "", FormatConsole, FormatJSON:
		return nil
	}
	return fmt.Errorf("invalid log format %q", format)
}

// SetLevel sets the global log level
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ParseLevel maps a config value such as "debug" or "warn" to a zerolog level
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ComponentLevels maps a component name to its minimum log level.
type ComponentLevels map[string]zerolog.Level

// ParseComponentLevels parses "transport=debug,parser=warn". Malformed
// entries are skipped.
func ParseComponentLevels(raw string) ComponentLevels {
	levels := make(ComponentLevels)
	for _, part := range strings.Split(raw, ",") {
		name, lvl, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		parsed, err := zerolog.ParseLevel(strings.TrimSpace(lvl))
		if err != nil {
			continue
		}
		levels[strings.TrimSpace(name)] = parsed
	}
	return levels
}

// Setup initializes the global zerolog logger based on environment configuration.
//   - level: log level string (trace, debug, info, warn, error, fatal, panic)
//   - format: "json" for production, "pretty" for human-readable dev output
//   - components: per-component overrides, may lower the level below the base one
//
// Returns the configured logger instance.
func Setup(level, format string, components ComponentLevels) zerolog.Logger {
	var writer io.Writer

	if format == "pretty" {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	} else {
		writer = os.Stdout
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	// The global level is a hard floor, so it has to admit the most verbose component.
	global := lvl
	for _, cl := range components {
		if cl < global {
			global = cl
		}
	}
	zerolog.SetGlobalLevel(global)

	log := zerolog.New(writer).
		Level(lvl).
		With().
		Timestamp().
		Caller().
		Logger()

	return log
}

// For returns a child logger tagged with the component name and filtered at
// the component's configured level, if any.
func (cl ComponentLevels) For(log zerolog.Logger, component string) zerolog.Logger {
	child := log.With().Str("component", component).Logger()
	if lvl, ok := cl[component]; ok {
		child = child.Level(lvl)
	}
	return child
}

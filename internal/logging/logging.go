package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init installs the default slog logger. LOG_LEVEL picks the level (default
// error) and LOG_FORMAT picks text or json. Output goes to stderr so the
// terminal UI keeps stdout.
func Init() {
	slog.SetDefault(New(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))
}

// New builds a logger for the given level and format names.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps LOG_LEVEL values onto slog levels.
func ParseLevel(l string) slog.Level {
	switch strings.ToLower(l) {
	case "trace":
		return LevelTrace
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

package app

import (
	"log/slog"
	"os"
)

// NewLogger returns the process logger. Production runs always emit
// JSON and skip source locations; elsewhere the format follows
// LOG_FORMAT and source locations are kept for debugging.
func NewLogger(cfg *Config) *slog.Logger {
	production := cfg.IsProduction()
	opts := &slog.HandlerOptions{AddSource: !production}
	if production || (cfg != nil && cfg.LogFormat == "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

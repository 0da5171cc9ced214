package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. The JSON handler is meant for log
// shippers in deployed environments; the text handler keeps local output
// readable.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. JSON output so audit log lines
// (log_type=audit) stay machine-parseable alongside the consensus trail.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

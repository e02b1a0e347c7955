package testutil

import (
	"log/slog"
)

// DiscardLogger returns a slog.Logger that discards all output.
// Use this in tests to reduce noise; components that take log.Logger
// (an alias for *slog.Logger) can also use log.NewNop() directly.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

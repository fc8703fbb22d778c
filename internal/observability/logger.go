// Package observability serves the loopback engine's Prometheus metrics.
package observability

import (
	"log/slog"

	"github.com/tphakala/loopback/internal/logging"
)

// getLogger returns the package logger, falling back to the default logger
// when logging has not been initialized.
func getLogger() *slog.Logger {
	if l := logging.ForService("observability"); l != nil {
		return l
	}
	return slog.Default()
}

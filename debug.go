package multiplex

import (
	"log/slog"

	"github.com/go-multiplex/multiplex/internal/debug"
)

// RegisterLogger configures the package's debug logger with the given
// slog.Handler h.
//
// By default the logger uses a no-op handler and doesn't produce any log
// events. Register a handler to see the fatal-error and
// protocol-violation logging described in SPEC_FULL.md §7.
func RegisterLogger(h slog.Handler) {
	debug.RegisterLogger(h)
}

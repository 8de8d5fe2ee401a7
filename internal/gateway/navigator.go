package gateway

import (
	"log/slog"
	"sync"
)

// Navigator remembers the last redirect the session machinery asked for.
// The portal has no browser to move, so the pending path is reported by
// GET /session until the user lands on a page that consumes it.
type Navigator struct {
	mu      sync.Mutex
	pending string
	logger  *slog.Logger
}

// NewNavigator builds a navigator with no pending redirect.
func NewNavigator(logger *slog.Logger) *Navigator {
	return &Navigator{logger: logger}
}

func (n *Navigator) Navigate(path string) {
	n.mu.Lock()
	changed := n.pending != path
	n.pending = path
	n.mu.Unlock()
	if changed && n.logger != nil {
		n.logger.Info("redirect requested", slog.String("path", path))
	}
}

// Pending returns the outstanding redirect, or "".
func (n *Navigator) Pending() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending
}

// Clear drops the outstanding redirect.
func (n *Navigator) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = ""
}

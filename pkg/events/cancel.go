package events

import (
	"context"
	"log/slog"
	"sync"
)

// CancelRegistry tracks which elements currently accept cancellation.
// A cancellable executor registers a cancel hook around every await; an
// observer's task.cancel.request fires it. Outside a registered window the
// request fails and the caller reports task.cancel.failed.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	logger  *slog.Logger
}

func NewCancelRegistry(logger *slog.Logger) *CancelRegistry {
	return &CancelRegistry{
		cancels: make(map[string]context.CancelFunc),
		logger:  logger.With("component", "cancel"),
	}
}

// Register makes elementID cancellable via Request. The returned func
// deregisters it.
func (r *CancelRegistry) Register(elementID string, cancel context.CancelFunc) func() {
	r.mu.Lock()
	r.cancels[elementID] = cancel
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.cancels, elementID)
		r.mu.Unlock()
	}
}

// Request fires the cancel hook for elementID. Returns false when the
// element is unknown or past its cancellable window.
func (r *CancelRegistry) Request(elementID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[elementID]
	if ok {
		delete(r.cancels, elementID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.logger.Info("cancellation requested", "elementId", elementID)
	cancel()
	return true
}

// Cancellable reports whether elementID currently accepts cancellation.
func (r *CancelRegistry) Cancellable(elementID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[elementID]
	return ok
}

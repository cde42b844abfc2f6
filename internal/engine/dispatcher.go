package engine

import (
	"sync"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
)

// Dispatcher enforces at most one in-flight mutating operation per
// entity id. The constraint is per logical entity, not global:
// operations on different entities proceed fully in parallel. Read-only
// operations are never gated.
type Dispatcher struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{inflight: make(map[string]struct{})}
}

// TryAcquire claims the gate for entityID, or reports ErrBusy if a
// mutating operation is already in flight for it.
func (d *Dispatcher) TryAcquire(entityID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[entityID]; busy {
		return control.ErrBusy
	}
	d.inflight[entityID] = struct{}{}
	return nil
}

// Release frees the gate. Idempotent.
func (d *Dispatcher) Release(entityID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, entityID)
}

// Do runs fn under the entity gate. The gate is released before Do
// returns, so any continuation queued behind the call observes a free
// gate regardless of fn's outcome.
func (d *Dispatcher) Do(entityID string, fn func() error) error {
	if err := d.TryAcquire(entityID); err != nil {
		return err
	}
	defer d.Release(entityID)
	return fn()
}

package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/logging"
)

// Poller is the fallback reconciliation path for worktree creation. The
// push transport can silently drop a worktree:created notification, so
// every optimistic pending insert arms a one-shot timer; if the event
// does not land before the deadline the poller re-fetches the entity
// directly until it appears or the attempt budget runs out.
type Poller struct {
	backend Backend
	store   *Store

	deadline    time.Duration // wait before first poll
	backoff     time.Duration // between poll attempts
	maxAttempts int

	// onReady runs exactly once per tracked worktree, on whichever path
	// (event or poll) confirms it first.
	onReady func(*entity.Worktree)

	mu      sync.Mutex
	pending map[string]*pendingCreate
}

type pendingCreate struct {
	timer *time.Timer
}

// NewPoller creates a poller with the given timing bounds.
func NewPoller(backend Backend, store *Store, deadline, backoff time.Duration, maxAttempts int, onReady func(*entity.Worktree)) *Poller {
	return &Poller{
		backend:     backend,
		store:       store,
		deadline:    deadline,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		onReady:     onReady,
		pending:     make(map[string]*pendingCreate),
	}
}

// Track inserts the optimistic pending worktree and arms the fallback
// timer. Called by the engine right after create_worktree returns.
func (p *Poller) Track(wt *entity.Worktree) {
	pending := wt.Clone()
	pending.Status = entity.WorktreePending
	p.store.UpsertWorktree(pending)

	entry := &pendingCreate{}
	entry.timer = time.AfterFunc(p.deadline, func() { p.poll(wt.ID) })

	p.mu.Lock()
	p.pending[wt.ID] = entry
	p.mu.Unlock()
}

// Confirm resolves a tracked worktree from the push-event path. If the
// poll path already resolved it, this is a safe no-op for the side
// effect but still applies the (authoritative) snapshot.
func (p *Poller) Confirm(wt *entity.Worktree) {
	first := p.invalidate(wt.ID)

	ready := wt.Clone()
	ready.Status = entity.WorktreeReady
	ready.StatusNote = ""
	p.store.UpsertWorktree(ready)

	if first && p.onReady != nil {
		p.onReady(ready)
	}
}

// invalidate removes the pending entry and cancels its timer. Returns
// true only for the first resolution of a creation tracked here, which
// guards the ready side effects from firing twice when the event and
// the poll race. Confirmations for creations this client never tracked
// (another client's worktree, or an already-resolved one) report false
// and leave no trace in the pending set.
func (p *Poller) invalidate(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.pending[id]
	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(p.pending, id)
	return true
}

// poll runs on the timer goroutine after the deadline passes without a
// creation event.
func (p *Poller) poll(id string) {
	for attempt := 1; ; attempt++ {
		p.mu.Lock()
		_, ok := p.pending[id]
		p.mu.Unlock()
		if !ok {
			return // event path won the race
		}

		wt, err := p.backend.GetWorktree(id)
		if err == nil {
			logging.Debug("worktree confirmed by fallback poll", "worktree", id, "attempt", attempt)
			p.Confirm(wt)
			return
		}

		var transient *control.TransientError
		retryable := errors.Is(err, control.ErrNotFound) || errors.As(err, &transient)
		if !retryable || attempt >= p.maxAttempts {
			logging.Warn("worktree reconciliation stalled", "worktree", id, "attempts", attempt, "error", err)
			p.markStalled(id)
			return
		}

		time.Sleep(p.backoff)
	}
}

// markStalled degrades the entity to a visible, non-blocking error
// state instead of retrying forever.
func (p *Poller) markStalled(id string) {
	p.mu.Lock()
	if entry, ok := p.pending[id]; ok {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(p.pending, id)
	}
	p.mu.Unlock()

	wt := p.store.Worktree(id)
	if wt == nil || wt.Status != entity.WorktreePending {
		return
	}
	wt.Status = entity.WorktreeError
	wt.StatusNote = "stalled: creation not confirmed by backend"
	p.store.UpsertWorktree(wt)
}

package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPollerEventConfirmsBeforeDeadline(t *testing.T) {
	f := newFakeBackend()
	s := NewStore()
	var ready atomic.Int32
	p := NewPoller(f, s, 20*time.Millisecond, 5*time.Millisecond, 3, func(*entity.Worktree) { ready.Add(1) })

	wt := testWorktree("wt-1", "proj-1", entity.WorktreeFeature, 1)
	p.Track(wt)

	if got := s.Worktree("wt-1").Status; got != entity.WorktreePending {
		t.Fatalf("expected pending after track, got %s", got)
	}

	// The event lands before the deadline; the timer path must not poll.
	p.Confirm(wt)

	if got := s.Worktree("wt-1").Status; got != entity.WorktreeReady {
		t.Errorf("expected ready after event, got %s", got)
	}
	if got := ready.Load(); got != 1 {
		t.Errorf("onReady fired %d times, want 1", got)
	}

	time.Sleep(60 * time.Millisecond)
	if calls := f.pollCalls(); calls != 0 {
		t.Errorf("poller issued %d fetches despite a timely event", calls)
	}
}

func TestPollerFallbackConfirmsExactlyOnce(t *testing.T) {
	f := newFakeBackend()
	wt := testWorktree("wt-1", "proj-1", entity.WorktreeFeature, 1)
	f.getWorktreeFn = func(id string) (*entity.Worktree, error) {
		return wt.Clone(), nil
	}

	s := NewStore()
	var ready atomic.Int32
	p := NewPoller(f, s, 5*time.Millisecond, 5*time.Millisecond, 3, func(*entity.Worktree) { ready.Add(1) })

	p.Track(wt)
	waitFor(t, "poll to confirm the worktree", func() bool {
		w := s.Worktree("wt-1")
		return w != nil && w.Status == entity.WorktreeReady
	})

	if got := ready.Load(); got != 1 {
		t.Errorf("onReady fired %d times, want 1", got)
	}
	if calls := f.pollCalls(); calls != 1 {
		t.Errorf("expected exactly one fallback fetch, got %d", calls)
	}

	// The delayed creation event arrives after the poll already resolved:
	// the snapshot still applies but the side effect must not repeat.
	p.Confirm(wt)
	if got := ready.Load(); got != 1 {
		t.Errorf("late event re-fired onReady: %d times", got)
	}
}

func TestPollerIgnoresForeignConfirmations(t *testing.T) {
	f := newFakeBackend()
	s := NewStore()
	var ready atomic.Int32
	p := NewPoller(f, s, 20*time.Millisecond, 5*time.Millisecond, 3, func(*entity.Worktree) { ready.Add(1) })

	// Creation events for worktrees this client never tracked (another
	// client made them): the snapshots apply, the local ready side
	// effects do not run, and nothing accumulates in the pending set.
	for i := 0; i < 5; i++ {
		wt := testWorktree(fmt.Sprintf("wt-foreign-%d", i), "proj-1", entity.WorktreeFeature, i)
		p.Confirm(wt)
	}

	if got := s.Worktree("wt-foreign-0"); got == nil || got.Status != entity.WorktreeReady {
		t.Fatalf("foreign creation snapshot not applied: %+v", got)
	}
	if got := ready.Load(); got != 0 {
		t.Errorf("onReady fired %d times for foreign creations", got)
	}
	p.mu.Lock()
	n := len(p.pending)
	p.mu.Unlock()
	if n != 0 {
		t.Errorf("pending set holds %d entries for untracked confirmations", n)
	}
}

func TestPollerReleasesEntryAfterConfirm(t *testing.T) {
	f := newFakeBackend()
	s := NewStore()
	p := NewPoller(f, s, 50*time.Millisecond, 5*time.Millisecond, 3, nil)

	wt := testWorktree("wt-1", "proj-1", entity.WorktreeFeature, 1)
	p.Track(wt)
	p.Confirm(wt)

	p.mu.Lock()
	n := len(p.pending)
	p.mu.Unlock()
	if n != 0 {
		t.Errorf("resolved creation left %d pending entries", n)
	}
}

func TestPollerRetriesNotFound(t *testing.T) {
	f := newFakeBackend()
	wt := testWorktree("wt-1", "proj-1", entity.WorktreeFeature, 1)
	var calls atomic.Int32
	f.getWorktreeFn = func(id string) (*entity.Worktree, error) {
		if calls.Add(1) < 3 {
			return nil, control.ErrNotFound
		}
		return wt.Clone(), nil
	}

	s := NewStore()
	p := NewPoller(f, s, time.Millisecond, time.Millisecond, 5, nil)

	p.Track(wt)
	waitFor(t, "retried poll to confirm", func() bool {
		w := s.Worktree("wt-1")
		return w != nil && w.Status == entity.WorktreeReady
	})
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestPollerStallsAfterBudget(t *testing.T) {
	f := newFakeBackend()
	f.getWorktreeFn = func(id string) (*entity.Worktree, error) {
		return nil, control.ErrNotFound
	}

	s := NewStore()
	p := NewPoller(f, s, time.Millisecond, time.Millisecond, 2, nil)

	p.Track(testWorktree("wt-1", "proj-1", entity.WorktreeFeature, 1))
	waitFor(t, "worktree to degrade to error", func() bool {
		w := s.Worktree("wt-1")
		return w != nil && w.Status == entity.WorktreeError
	})

	w := s.Worktree("wt-1")
	if w.StatusNote == "" {
		t.Error("stalled worktree carries no status note")
	}
	if calls := f.pollCalls(); calls != 2 {
		t.Errorf("expected the attempt budget (2) to bound fetches, got %d", calls)
	}
}

func TestPollerStopsOnNonRetryableError(t *testing.T) {
	f := newFakeBackend()
	f.getWorktreeFn = func(id string) (*entity.Worktree, error) {
		return nil, errors.New("schema corrupt")
	}

	s := NewStore()
	p := NewPoller(f, s, time.Millisecond, time.Millisecond, 5, nil)

	p.Track(testWorktree("wt-1", "proj-1", entity.WorktreeFeature, 1))
	waitFor(t, "worktree to degrade to error", func() bool {
		w := s.Worktree("wt-1")
		return w != nil && w.Status == entity.WorktreeError
	})
	if calls := f.pollCalls(); calls != 1 {
		t.Errorf("non-retryable error must stop polling immediately, got %d fetches", calls)
	}
}

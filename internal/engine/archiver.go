package engine

import (
	"errors"
	"fmt"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

// Archiver governs the worktree lifecycle active -> archived -> active
// (restore) or archived -> deleted (permanent), cascading to sessions.
// Each transition runs under the per-entity dispatcher gate so a
// double-archive or archive-while-restoring race is rejected with Busy
// instead of corrupting state.
type Archiver struct {
	backend    Backend
	store      *Store
	dispatcher *Dispatcher
}

// NewArchiver wires an archiver.
func NewArchiver(backend Backend, store *Store, dispatcher *Dispatcher) *Archiver {
	return &Archiver{backend: backend, store: store, dispatcher: dispatcher}
}

// Archive archives a worktree and all its sessions. The store
// transition is atomic: no caller observes the worktree archived while
// its sessions are still live.
func (a *Archiver) Archive(worktreeID string) error {
	return a.dispatcher.Do(worktreeID, func() error {
		result, err := a.backend.ArchiveWorktree(worktreeID)
		if err != nil {
			return fmt.Errorf("archive worktree: %w", err)
		}
		a.store.ApplyArchive(result)
		return nil
	})
}

// Unarchive restores an archived worktree. Sessions come back in their
// original relative order and the first by order becomes active.
func (a *Archiver) Unarchive(worktreeID string) error {
	return a.dispatcher.Do(worktreeID, func() error {
		result, err := a.backend.UnarchiveWorktree(worktreeID)
		if err != nil {
			return fmt.Errorf("unarchive worktree: %w", err)
		}
		a.store.ApplyUnarchive(result.Worktree, result.Sessions)
		return nil
	})
}

// Delete permanently deletes an archived worktree and purges its
// orphaned archived-session entries. Only archived worktrees can be
// deleted.
func (a *Archiver) Delete(worktreeID string) error {
	return a.dispatcher.Do(worktreeID, func() error {
		if a.store.ArchivedWorktree(worktreeID) == nil {
			return fmt.Errorf("delete worktree %s: %w (only archived worktrees can be deleted)", worktreeID, control.ErrNotFound)
		}
		if err := a.backend.DeleteWorktree(worktreeID); err != nil {
			return fmt.Errorf("delete worktree: %w", err)
		}
		a.store.PurgeArchivedWorktree(worktreeID)
		return nil
	})
}

// RestoreSessionWithBase restores an archived session independently of
// its worktree, re-creating or reusing the project's base worktree as
// the attachment point when the original worktree no longer exists.
func (a *Archiver) RestoreSessionWithBase(sessionID, projectID string) error {
	return a.dispatcher.Do(sessionID, func() error {
		result, err := a.backend.RestoreSessionWithBase(sessionID, projectID)
		if err != nil {
			return fmt.Errorf("restore session: %w", err)
		}
		a.store.ApplySessionRestore(result.Session, result.Worktree)
		return nil
	})
}

// Conflict describes a worktree-creation path collision with enough
// context for an explicit user decision. The engine never resolves a
// conflict automatically.
type Conflict struct {
	Path          string
	SuggestedName string
	// ArchivedMatch is set when an archived worktree previously
	// occupied the exact target path and can simply be restored.
	ArchivedMatch *entity.ArchivedWorktree
}

// ConflictResolution selects one of the three offered options.
type ConflictResolution string

const (
	// ResolveRestore restores the matched archived worktree.
	ResolveRestore ConflictResolution = "restore"
	// ResolveImport adopts the existing directory as a new worktree
	// unmodified.
	ResolveImport ConflictResolution = "import"
	// ResolveRename creates a fresh worktree under the disambiguated
	// generated name.
	ResolveRename ConflictResolution = "rename"
)

// enrichConflict resolves the archived match referenced by a wire
// conflict error against the local archive collection.
func (a *Archiver) enrichConflict(err *control.ConflictError) *Conflict {
	c := &Conflict{Path: err.Path, SuggestedName: err.SuggestedName}
	if err.ArchivedWorktreeID != "" {
		c.ArchivedMatch = a.store.ArchivedWorktree(err.ArchivedWorktreeID)
	}
	return c
}

// asConflict extracts a wire conflict from an error chain.
func asConflict(err error) *control.ConflictError {
	var conflict *control.ConflictError
	if errors.As(err, &conflict) {
		return conflict
	}
	return nil
}

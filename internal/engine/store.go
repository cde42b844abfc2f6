// Package engine implements the client-side entity synchronization and
// chat-stream reconciliation engine.
//
// Architecture:
//   - Store: canonical in-memory cache of projects/worktrees/sessions
//   - Dispatcher: per-entity serialization of mutating commands
//   - Listener: applies backend push events to the store
//   - Poller: fallback re-fetch when an expected event never arrives
//   - Archiver: cascade archive/restore state machine
//   - ChatReducer: folds streamed chat events into finalized messages
//
// The backend (jeand) is the source of truth; the engine reads its own
// cache and repairs divergence via events and polling.
package engine

import (
	"reflect"
	"sort"
	"sync"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

// Store is the canonical cache of all entities. All mutation goes
// through the upsert/remove/apply methods; readers get deep copies and
// never observe a partially-applied entity.
type Store struct {
	mu sync.RWMutex

	projects          map[string]*entity.Project
	worktrees         map[string]*entity.Worktree
	sessions          map[string]*entity.Session
	archivedWorktrees map[string]*entity.ArchivedWorktree
	archivedSessions  map[string]*entity.ArchivedSession

	// activeSession maps worktree id -> currently active session id.
	activeSession map[string]string

	subMu   sync.Mutex
	subs    map[string]map[int]func()
	nextSub int
}

// Subscription keys that are not entity ids.
const (
	// KeyProjects fires when the project list changes.
	KeyProjects = "projects"
	// KeyArchive fires when either archived collection changes.
	KeyArchive = "archive"
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		projects:          make(map[string]*entity.Project),
		worktrees:         make(map[string]*entity.Worktree),
		sessions:          make(map[string]*entity.Session),
		archivedWorktrees: make(map[string]*entity.ArchivedWorktree),
		archivedSessions:  make(map[string]*entity.ArchivedSession),
		activeSession:     make(map[string]string),
		subs:              make(map[string]map[int]func()),
	}
}

// Subscribe registers fn to run after any write keyed by key (an entity
// id, a parent entity id, KeyProjects, or KeyArchive). Returns an
// unsubscribe function.
func (s *Store) Subscribe(key string, fn func()) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func())
	}
	id := s.nextSub
	s.nextSub++
	s.subs[key][id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs[key], id)
	}
}

// notify runs subscribers for the given keys outside the store lock.
func (s *Store) notify(keys ...string) {
	var fns []func()
	s.subMu.Lock()
	for _, key := range keys {
		for _, fn := range s.subs[key] {
			fns = append(fns, fn)
		}
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// --- Projects ---

// UpsertProject applies a project snapshot. Applying an identical
// snapshot is a no-op and does not notify.
func (s *Store) UpsertProject(p *entity.Project) {
	s.mu.Lock()
	if existing, ok := s.projects[p.ID]; ok && reflect.DeepEqual(existing, p) {
		s.mu.Unlock()
		return
	}
	cp := *p
	s.projects[p.ID] = &cp
	s.mu.Unlock()
	s.notify(p.ID, KeyProjects)
}

// RemoveProject removes a project. Idempotent.
func (s *Store) RemoveProject(id string) {
	s.mu.Lock()
	_, ok := s.projects[id]
	delete(s.projects, id)
	s.mu.Unlock()
	if ok {
		s.notify(id, KeyProjects)
	}
}

// Project returns a copy of the project, or nil.
func (s *Store) Project(id string) *entity.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.projects[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// Projects lists all projects ordered by sort key.
func (s *Store) Projects() []*entity.Project {
	s.mu.RLock()
	out := make([]*entity.Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SortKey < out[j].SortKey })
	return out
}

// --- Worktrees ---

// UpsertWorktree applies a worktree snapshot: whole-entity last-write-
// wins replace, no field merging. Identical snapshots are a no-op.
func (s *Store) UpsertWorktree(w *entity.Worktree) {
	s.mu.Lock()
	if existing, ok := s.worktrees[w.ID]; ok && reflect.DeepEqual(existing, w) {
		s.mu.Unlock()
		return
	}
	s.worktrees[w.ID] = w.Clone()
	s.mu.Unlock()
	s.notify(w.ID, w.ProjectID)
}

// RemoveWorktree removes a worktree. Idempotent.
func (s *Store) RemoveWorktree(id string) {
	s.mu.Lock()
	w, ok := s.worktrees[id]
	delete(s.worktrees, id)
	delete(s.activeSession, id)
	s.mu.Unlock()
	if ok {
		s.notify(id, w.ProjectID)
	}
}

// Worktree returns a copy of the worktree, or nil.
func (s *Store) Worktree(id string) *entity.Worktree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worktrees[id].Clone()
}

// Worktrees lists active worktrees for a project, base first then by
// sort key.
func (s *Store) Worktrees(projectID string) []*entity.Worktree {
	s.mu.RLock()
	var out []*entity.Worktree
	for _, w := range s.worktrees {
		if w.ProjectID == projectID {
			out = append(out, w.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Kind == entity.WorktreeBase) != (out[j].Kind == entity.WorktreeBase) {
			return out[i].Kind == entity.WorktreeBase
		}
		return out[i].SortKey < out[j].SortKey
	})
	return out
}

// BaseWorktree returns the project's non-archived base worktree, or nil.
func (s *Store) BaseWorktree(projectID string) *entity.Worktree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.worktrees {
		if w.ProjectID == projectID && w.Kind == entity.WorktreeBase {
			return w.Clone()
		}
	}
	return nil
}

// --- Sessions ---

// UpsertSession applies a session snapshot. Notifies the session id and
// the owning worktree id, but never the worktree's project key: session
// content changes must not invalidate the worktree list.
func (s *Store) UpsertSession(sess *entity.Session) {
	s.mu.Lock()
	if existing, ok := s.sessions[sess.ID]; ok && reflect.DeepEqual(existing, sess) {
		s.mu.Unlock()
		return
	}
	s.sessions[sess.ID] = sess.Clone()
	if _, ok := s.activeSession[sess.WorktreeID]; !ok {
		s.activeSession[sess.WorktreeID] = sess.ID
	}
	s.mu.Unlock()
	s.notify(sess.ID, sess.WorktreeID)
}

// RemoveSession removes a session. Idempotent.
func (s *Store) RemoveSession(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	if ok && s.activeSession[sess.WorktreeID] == id {
		delete(s.activeSession, sess.WorktreeID)
		// fall back to the first remaining session by order
		if next := s.firstSessionLocked(sess.WorktreeID); next != "" {
			s.activeSession[sess.WorktreeID] = next
		}
	}
	s.mu.Unlock()
	if ok {
		s.notify(id, sess.WorktreeID)
	}
}

// Session returns a deep copy of the session, or nil.
func (s *Store) Session(id string) *entity.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id].Clone()
}

// Sessions lists sessions for a worktree ordered by sort key.
func (s *Store) Sessions(worktreeID string) []*entity.Session {
	s.mu.RLock()
	var out []*entity.Session
	for _, sess := range s.sessions {
		if sess.WorktreeID == worktreeID {
			out = append(out, sess.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SortKey < out[j].SortKey })
	return out
}

// ActiveSession returns the id of the worktree's active session, or "".
func (s *Store) ActiveSession(worktreeID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeSession[worktreeID]
}

// SetActiveSession marks one session active for its worktree. Archived
// sessions are never active; unknown ids are ignored.
func (s *Store) SetActiveSession(worktreeID, sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.WorktreeID != worktreeID || sess.ArchivedAt != nil {
		s.mu.Unlock()
		return
	}
	s.activeSession[worktreeID] = sessionID
	s.mu.Unlock()
	s.notify(worktreeID)
}

func (s *Store) firstSessionLocked(worktreeID string) string {
	best := ""
	bestKey := 0
	for _, sess := range s.sessions {
		if sess.WorktreeID != worktreeID {
			continue
		}
		if best == "" || sess.SortKey < bestKey {
			best = sess.ID
			bestKey = sess.SortKey
		}
	}
	return best
}

// --- Archived collections ---

// ArchivedWorktrees lists archived worktrees, most recent first.
func (s *Store) ArchivedWorktrees() []*entity.ArchivedWorktree {
	s.mu.RLock()
	out := make([]*entity.ArchivedWorktree, 0, len(s.archivedWorktrees))
	for _, a := range s.archivedWorktrees {
		cp := *a
		cp.Worktree = a.Worktree.Clone()
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ArchivedAt.After(out[j].ArchivedAt) })
	return out
}

// ArchivedWorktree returns one archived worktree, or nil.
func (s *Store) ArchivedWorktree(id string) *entity.ArchivedWorktree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.archivedWorktrees[id]; ok {
		cp := *a
		cp.Worktree = a.Worktree.Clone()
		return &cp
	}
	return nil
}

// ArchivedSessions lists the global archived-session collection, most
// recent first.
func (s *Store) ArchivedSessions() []*entity.ArchivedSession {
	s.mu.RLock()
	out := make([]*entity.ArchivedSession, 0, len(s.archivedSessions))
	for _, a := range s.archivedSessions {
		cp := *a
		cp.Session = a.Session.Clone()
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ArchivedAt.After(out[j].ArchivedAt) })
	return out
}

// UpsertArchivedWorktree inserts or replaces an archived entry.
func (s *Store) UpsertArchivedWorktree(a *entity.ArchivedWorktree) {
	s.mu.Lock()
	s.archivedWorktrees[a.Worktree.ID] = a
	s.mu.Unlock()
	s.notify(KeyArchive)
}

// UpsertArchivedSession inserts or replaces an archived session entry.
func (s *Store) UpsertArchivedSession(a *entity.ArchivedSession) {
	s.mu.Lock()
	s.archivedSessions[a.Session.ID] = a
	s.mu.Unlock()
	s.notify(KeyArchive)
}

// --- Atomic cascade transitions ---

// ApplyArchive applies a cascade archive result in one step: the
// worktree and all of its sessions leave the active collections and the
// archived entries appear before any subscriber runs, so no
// intermediate state (worktree archived, sessions live) is observable.
func (s *Store) ApplyArchive(res *control.ArchiveWorktreeResult) {
	if res == nil || res.Archived == nil || res.Archived.Worktree == nil {
		return
	}
	wt := res.Archived.Worktree
	s.mu.Lock()
	delete(s.worktrees, wt.ID)
	delete(s.activeSession, wt.ID)
	for id, sess := range s.sessions {
		if sess.WorktreeID == wt.ID {
			delete(s.sessions, id)
		}
	}
	s.archivedWorktrees[wt.ID] = res.Archived
	for _, as := range res.Sessions {
		s.archivedSessions[as.Session.ID] = as
	}
	s.mu.Unlock()
	s.notify(wt.ID, wt.ProjectID, KeyArchive)
}

// ApplyUnarchive applies a cascade restore: sessions are rehydrated in
// their original relative order and the active session is reset to the
// first by order (never empty if any session exists).
func (s *Store) ApplyUnarchive(wt *entity.Worktree, sessions []*entity.Session) {
	if wt == nil {
		return
	}
	s.mu.Lock()
	delete(s.archivedWorktrees, wt.ID)
	s.worktrees[wt.ID] = wt.Clone()
	for _, sess := range sessions {
		delete(s.archivedSessions, sess.ID)
		s.sessions[sess.ID] = sess.Clone()
	}
	if first := s.firstSessionLocked(wt.ID); first != "" {
		s.activeSession[wt.ID] = first
	}
	s.mu.Unlock()
	s.notify(wt.ID, wt.ProjectID, KeyArchive)
}

// PurgeArchivedWorktree removes an archived worktree and, as a side
// effect, every orphaned archived-session entry that pointed at it.
func (s *Store) PurgeArchivedWorktree(id string) {
	s.mu.Lock()
	delete(s.archivedWorktrees, id)
	for sid, as := range s.archivedSessions {
		if as.WorktreeID == id {
			delete(s.archivedSessions, sid)
		}
	}
	s.mu.Unlock()
	s.notify(KeyArchive)
}

// ApplySessionRestore applies a restore-with-base result: the archived
// session entry disappears and the session reappears attached to wt.
func (s *Store) ApplySessionRestore(sess *entity.Session, wt *entity.Worktree) {
	if sess == nil || wt == nil {
		return
	}
	s.mu.Lock()
	delete(s.archivedSessions, sess.ID)
	s.worktrees[wt.ID] = wt.Clone()
	s.sessions[sess.ID] = sess.Clone()
	s.activeSession[wt.ID] = sess.ID
	s.mu.Unlock()
	s.notify(wt.ID, wt.ProjectID, sess.ID, KeyArchive)
}

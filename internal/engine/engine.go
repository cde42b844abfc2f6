package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/logging"
)

// Notice is a user-visible transient notification (direct-action
// failures). Background reconciliation failures degrade to entity state
// instead of producing notices.
type Notice struct {
	Level string // info | warn | error
	Text  string
}

// Options tunes the engine. Zero values pick the defaults.
type Options struct {
	PollDeadline time.Duration // wait for a creation event before polling (default 1500ms)
	PollBackoff  time.Duration // between poll attempts (default 1s)
	PollAttempts int           // bounded attempt count (default 5)
	QueueLimit   int           // per-session outgoing queue bound (default 8)

	// OnWorktreeReady runs exactly once when a created worktree is
	// confirmed (select it, register its path). May be nil.
	OnWorktreeReady func(*entity.Worktree)
	// Notify receives user-visible notices. May be nil.
	Notify func(Notice)
	// OnUndoSend restores a prompt after instant cancellation. May be nil.
	OnUndoSend func(sessionID, text string)
}

// Engine owns the canonical client-side state and arbitrates between
// push events and fallback polling. All mutation funnels through the
// store's upsert/remove contract; per-entity commands are serialized by
// the dispatcher.
type Engine struct {
	backend    Backend
	store      *Store
	dispatcher *Dispatcher
	poller     *Poller
	chat       *ChatReducer
	archiver   *Archiver
	listener   *Listener

	notify func(Notice)
	done   chan struct{}
}

// New assembles an engine over a backend.
func New(backend Backend, opts Options) *Engine {
	if opts.PollDeadline <= 0 {
		opts.PollDeadline = 1500 * time.Millisecond
	}
	if opts.PollBackoff <= 0 {
		opts.PollBackoff = time.Second
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 5
	}

	store := NewStore()
	dispatcher := NewDispatcher()
	poller := NewPoller(backend, store, opts.PollDeadline, opts.PollBackoff, opts.PollAttempts, opts.OnWorktreeReady)
	chat := NewChatReducer(backend, store, opts.QueueLimit)
	archiver := NewArchiver(backend, store, dispatcher)

	e := &Engine{
		backend:    backend,
		store:      store,
		dispatcher: dispatcher,
		poller:     poller,
		chat:       chat,
		archiver:   archiver,
		listener:   NewListener(store, poller, chat),
		notify:     opts.Notify,
		done:       make(chan struct{}),
	}

	chat.onUndoSend = opts.OnUndoSend
	chat.onStreamError = func(sessionID, errText string) {
		e.notice("error", fmt.Sprintf("agent run failed: %s", errText))
	}
	chat.refetch = func(sessionID string) {
		go e.RefreshSession(sessionID)
	}
	return e
}

// Store exposes the entity cache for readers and subscribers.
func (e *Engine) Store() *Store { return e.store }

// Chat exposes the stream reducer state (for rendering).
func (e *Engine) Chat() *ChatReducer { return e.chat }

// Start loads the initial snapshot and begins consuming push events.
func (e *Engine) Start() error {
	if err := e.loadSnapshot(); err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}
	go e.eventLoop()
	return nil
}

// Stop ends event consumption.
func (e *Engine) Stop() {
	close(e.done)
}

func (e *Engine) eventLoop() {
	events := e.backend.Events()
	for {
		select {
		case <-e.done:
			return
		case ev, ok := <-events:
			if !ok {
				logging.Warn("backend event channel closed")
				return
			}
			e.listener.Apply(ev)
		}
	}
}

// loadSnapshot primes the store from the backend's current state.
func (e *Engine) loadSnapshot() error {
	projects, err := e.backend.ListProjects()
	if err != nil {
		return err
	}
	for _, p := range projects {
		e.store.UpsertProject(p)
		worktrees, err := e.backend.ListWorktrees(p.ID)
		if err != nil {
			return err
		}
		for _, wt := range worktrees {
			e.store.UpsertWorktree(wt)
			sessions, err := e.backend.ListWorktreeSessions(wt.ID)
			if err != nil {
				logging.Warn("failed to load sessions", "worktree", wt.ID, "error", err)
				continue
			}
			for _, sess := range sessions {
				e.store.UpsertSession(sess)
			}
		}
	}

	archivedWts, err := e.backend.ListArchivedWorktrees()
	if err != nil {
		return err
	}
	for _, a := range archivedWts {
		e.store.UpsertArchivedWorktree(a)
	}

	archivedSessions, err := e.backend.ListArchivedSessions()
	if err != nil {
		return err
	}
	for _, a := range archivedSessions {
		e.store.UpsertArchivedSession(a)
	}
	return nil
}

// RefreshSession refetches a session whole and replaces the cached
// snapshot. Used to invalidate after a completed stream. The reducer
// folds the snapshot in so a send drained in the meantime survives.
func (e *Engine) RefreshSession(sessionID string) {
	sess, err := e.backend.GetSession(sessionID)
	if err != nil {
		logging.Warn("session refetch failed", "session", sessionID, "error", err)
		return
	}
	e.chat.ApplyRefetched(sess)
}

// --- Commands ---

// CreateWorktree provisions a worktree for a project. On success the
// entity appears as pending and the reconciliation poller is armed. On
// a path collision the returned Conflict carries the three resolution
// options; nothing is created.
func (e *Engine) CreateWorktree(projectID, name string, agent entity.AgentKind) (*entity.Worktree, *Conflict, error) {
	var created *entity.Worktree
	var conflict *Conflict
	err := e.dispatcher.Do("create:"+projectID, func() error {
		wt, err := e.backend.CreateWorktree(control.CreateWorktreeRequest{
			ProjectID: projectID,
			Name:      name,
			Agent:     agent,
		})
		if err != nil {
			if wireConflict := asConflict(err); wireConflict != nil {
				conflict = e.archiver.enrichConflict(wireConflict)
				return nil
			}
			return err
		}
		created = wt
		e.poller.Track(wt)
		return nil
	})
	if err != nil {
		e.notice("error", fmt.Sprintf("create worktree: %v", err))
		return nil, nil, err
	}
	return created, conflict, nil
}

// ResolveWorktreeConflict retries a creation with an explicit
// resolution chosen by the user.
func (e *Engine) ResolveWorktreeConflict(projectID, name string, agent entity.AgentKind, resolution ConflictResolution, conflict *Conflict) (*entity.Worktree, error) {
	if resolution == ResolveRestore {
		if conflict == nil || conflict.ArchivedMatch == nil {
			return nil, fmt.Errorf("no archived worktree to restore")
		}
		id := conflict.ArchivedMatch.Worktree.ID
		if err := e.archiver.Unarchive(id); err != nil {
			return nil, err
		}
		return e.store.Worktree(id), nil
	}

	req := control.CreateWorktreeRequest{ProjectID: projectID, Name: name, Agent: agent, Resolve: string(resolution)}
	if resolution == ResolveRename && conflict != nil && conflict.SuggestedName != "" {
		req.Name = conflict.SuggestedName
	}

	var created *entity.Worktree
	err := e.dispatcher.Do("create:"+projectID, func() error {
		wt, err := e.backend.CreateWorktree(req)
		if err != nil {
			return err
		}
		created = wt
		e.poller.Track(wt)
		return nil
	})
	if err != nil {
		e.notice("error", fmt.Sprintf("create worktree: %v", err))
		return nil, err
	}
	return created, nil
}

// CreateSession creates a session attached to a worktree; it becomes
// active if the worktree had none.
func (e *Engine) CreateSession(worktreeID, name string) (*entity.Session, error) {
	var created *entity.Session
	err := e.dispatcher.Do(worktreeID, func() error {
		sess, err := e.backend.CreateSession(worktreeID, name)
		if err != nil {
			return err
		}
		created = sess
		e.store.UpsertSession(sess)
		return nil
	})
	if err != nil {
		e.notice("error", fmt.Sprintf("create session: %v", err))
		return nil, err
	}
	return created, nil
}

// Send submits a chat message (queued if the session is mid-stream).
func (e *Engine) Send(req control.SendChatRequest) error {
	return e.chat.Send(req)
}

// Cancel aborts the in-flight send for a session.
func (e *Engine) Cancel(sessionID string) error {
	return e.chat.Cancel(sessionID)
}

// Answer submits the answer to a suspended structured question.
func (e *Engine) Answer(sessionID, questionID, answer string) error {
	return e.chat.Answer(sessionID, questionID, answer)
}

// ArchiveWorktree archives a worktree (cascading to its sessions).
func (e *Engine) ArchiveWorktree(worktreeID string) error {
	if err := e.archiver.Archive(worktreeID); err != nil {
		e.surface(err, "archive")
		return err
	}
	return nil
}

// UnarchiveWorktree restores an archived worktree.
func (e *Engine) UnarchiveWorktree(worktreeID string) error {
	if err := e.archiver.Unarchive(worktreeID); err != nil {
		e.surface(err, "restore")
		return err
	}
	return nil
}

// DeleteWorktree permanently deletes an archived worktree.
func (e *Engine) DeleteWorktree(worktreeID string) error {
	if err := e.archiver.Delete(worktreeID); err != nil {
		e.surface(err, "delete")
		return err
	}
	return nil
}

// RestoreSessionWithBase re-attaches an orphaned archived session.
func (e *Engine) RestoreSessionWithBase(sessionID, projectID string) error {
	if err := e.archiver.RestoreSessionWithBase(sessionID, projectID); err != nil {
		e.surface(err, "restore session")
		return err
	}
	return nil
}

// UpdateSessionSetting changes one execution setting. Other observers
// learn about it via the session:setting_changed broadcast.
func (e *Engine) UpdateSessionSetting(sessionID, field, value string) error {
	return e.dispatcher.Do(sessionID, func() error {
		sess, err := e.backend.UpdateSessionSettings(control.UpdateSessionSettingsRequest{
			SessionID: sessionID,
			Field:     field,
			Value:     value,
		})
		if err != nil {
			e.surface(err, "update setting")
			return err
		}
		e.store.UpsertSession(sess)
		return nil
	})
}

// surface converts an error into a user-visible notice. Busy is a
// brief hint, never silently dropped.
func (e *Engine) surface(err error, action string) {
	switch {
	case err == nil:
		return
	case asConflict(err) != nil:
		return // conflicts get their own resolution flow
	default:
		level := "error"
		if errors.Is(err, control.ErrBusy) {
			level = "info"
		}
		e.notice(level, fmt.Sprintf("%s: %v", action, err))
	}
}

func (e *Engine) notice(level, text string) {
	if e.notify != nil {
		e.notify(Notice{Level: level, Text: text})
	}
}

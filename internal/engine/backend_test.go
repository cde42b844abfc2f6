package engine

import (
	"sync"
	"time"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

// fakeBackend is a scriptable Backend: each call delegates to an
// optional hook; unset hooks return zero values.
type fakeBackend struct {
	mu sync.Mutex

	events chan control.Event

	createWorktreeFn func(control.CreateWorktreeRequest) (*entity.Worktree, error)
	getWorktreeFn    func(string) (*entity.Worktree, error)
	archiveFn        func(string) (*control.ArchiveWorktreeResult, error)
	unarchiveFn      func(string) (*control.UnarchiveWorktreeResult, error)
	deleteFn         func(string) error
	restoreFn        func(string, string) (*control.RestoreSessionResult, error)
	sendChatFn       func(control.SendChatRequest) (*entity.Message, error)
	cancelChatFn     func(string) (bool, error)
	getSessionFn     func(string) (*entity.Session, error)

	getWorktreeCalls int
	sendCalls        []control.SendChatRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{events: make(chan control.Event, 64)}
}

func (f *fakeBackend) ListProjects() ([]*entity.Project, error)                  { return nil, nil }
func (f *fakeBackend) ListWorktrees(string) ([]*entity.Worktree, error)          { return nil, nil }
func (f *fakeBackend) ListArchivedWorktrees() ([]*entity.ArchivedWorktree, error) { return nil, nil }
func (f *fakeBackend) ListArchivedSessions() ([]*entity.ArchivedSession, error)  { return nil, nil }
func (f *fakeBackend) ListWorktreeSessions(string) ([]*entity.Session, error)    { return nil, nil }

func (f *fakeBackend) CreateWorktree(req control.CreateWorktreeRequest) (*entity.Worktree, error) {
	if f.createWorktreeFn != nil {
		return f.createWorktreeFn(req)
	}
	return nil, control.ErrNotFound
}

func (f *fakeBackend) GetWorktree(id string) (*entity.Worktree, error) {
	f.mu.Lock()
	f.getWorktreeCalls++
	f.mu.Unlock()
	if f.getWorktreeFn != nil {
		return f.getWorktreeFn(id)
	}
	return nil, control.ErrNotFound
}

func (f *fakeBackend) pollCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getWorktreeCalls
}

func (f *fakeBackend) ArchiveWorktree(id string) (*control.ArchiveWorktreeResult, error) {
	if f.archiveFn != nil {
		return f.archiveFn(id)
	}
	return nil, control.ErrNotFound
}

func (f *fakeBackend) UnarchiveWorktree(id string) (*control.UnarchiveWorktreeResult, error) {
	if f.unarchiveFn != nil {
		return f.unarchiveFn(id)
	}
	return nil, control.ErrNotFound
}

func (f *fakeBackend) DeleteWorktree(id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(id)
	}
	return nil
}

func (f *fakeBackend) CreateSession(worktreeID, name string) (*entity.Session, error) {
	return &entity.Session{ID: "sess-" + name, WorktreeID: worktreeID, Name: name, CreatedAt: time.Now()}, nil
}

func (f *fakeBackend) GetSession(id string) (*entity.Session, error) {
	if f.getSessionFn != nil {
		return f.getSessionFn(id)
	}
	return nil, control.ErrNotFound
}

func (f *fakeBackend) RestoreSessionWithBase(sessionID, projectID string) (*control.RestoreSessionResult, error) {
	if f.restoreFn != nil {
		return f.restoreFn(sessionID, projectID)
	}
	return nil, control.ErrNotFound
}

func (f *fakeBackend) UpdateSessionSettings(req control.UpdateSessionSettingsRequest) (*entity.Session, error) {
	return nil, control.ErrNotFound
}

func (f *fakeBackend) SendChat(req control.SendChatRequest) (*entity.Message, error) {
	f.mu.Lock()
	f.sendCalls = append(f.sendCalls, req)
	f.mu.Unlock()
	if f.sendChatFn != nil {
		return f.sendChatFn(req)
	}
	return &entity.Message{ID: "ack", SessionID: req.SessionID, Role: entity.RoleUser, Content: req.Text}, nil
}

func (f *fakeBackend) sent() []control.SendChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]control.SendChatRequest, len(f.sendCalls))
	copy(out, f.sendCalls)
	return out
}

func (f *fakeBackend) CancelChat(sessionID string) (bool, error) {
	if f.cancelChatFn != nil {
		return f.cancelChatFn(sessionID)
	}
	return false, nil
}

func (f *fakeBackend) Events() <-chan control.Event { return f.events }

// --- shared fixtures ---

func testWorktree(id, projectID string, kind entity.WorktreeKind, sortKey int) *entity.Worktree {
	return &entity.Worktree{
		ID:        id,
		ProjectID: projectID,
		Name:      id,
		Path:      "/tmp/jean/" + id,
		Branch:    "jean/" + id,
		Kind:      kind,
		Status:    entity.WorktreeReady,
		SortKey:   sortKey,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testSession(id, worktreeID string, sortKey int) *entity.Session {
	return &entity.Session{
		ID:         id,
		WorktreeID: worktreeID,
		Name:       id,
		SortKey:    sortKey,
		Agent:      entity.AgentMock,
		CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

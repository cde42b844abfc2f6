package engine

import (
	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

// Backend is the execution-backend boundary the engine reconciles
// against: an RPC command surface plus a push event channel.
// control.Client implements it over the jeand socket; tests supply an
// in-memory fake. The engine must stay correct even if the concrete
// transport changes.
type Backend interface {
	ListProjects() ([]*entity.Project, error)
	ListWorktrees(projectID string) ([]*entity.Worktree, error)
	ListArchivedWorktrees() ([]*entity.ArchivedWorktree, error)
	ListArchivedSessions() ([]*entity.ArchivedSession, error)

	CreateWorktree(req control.CreateWorktreeRequest) (*entity.Worktree, error)
	GetWorktree(id string) (*entity.Worktree, error)
	ArchiveWorktree(id string) (*control.ArchiveWorktreeResult, error)
	UnarchiveWorktree(id string) (*control.UnarchiveWorktreeResult, error)
	DeleteWorktree(id string) error

	CreateSession(worktreeID, name string) (*entity.Session, error)
	GetSession(id string) (*entity.Session, error)
	ListWorktreeSessions(worktreeID string) ([]*entity.Session, error)
	RestoreSessionWithBase(sessionID, projectID string) (*control.RestoreSessionResult, error)
	UpdateSessionSettings(req control.UpdateSessionSettingsRequest) (*entity.Session, error)

	SendChat(req control.SendChatRequest) (*entity.Message, error)
	CancelChat(sessionID string) (bool, error)

	// Events is the push notification channel. Per-session chat events
	// arrive in emission order; events may be dropped by the transport.
	Events() <-chan control.Event
}

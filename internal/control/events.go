package control

import "github.com/Rhiz3K/Rhiz3K-jean/internal/entity"

// Push event types broadcast by jeand. Chat events for one session are
// emitted in order; the transport does not reorder within a connection.
const (
	EventWorktreeCreated    = "worktree:created"
	EventWorktreeArchived   = "worktree:archived"
	EventWorktreeUnarchived = "worktree:unarchived"

	EventChatChunk     = "chat:chunk"
	EventChatToolUse   = "chat:tool_use"
	EventChatToolBlock = "chat:tool_block"
	EventChatDone      = "chat:done"
	EventChatError     = "chat:error"
	EventChatCancelled = "chat:cancelled"

	EventSessionSettingChanged = "session:setting_changed"
)

// WorktreeCreatedEvent confirms a worktree the backend finished setting up.
type WorktreeCreatedEvent struct {
	Worktree *entity.Worktree `json:"worktree"`
}

// WorktreeArchivedEvent carries the full cascade result: the archived
// worktree plus every session archived with it.
type WorktreeArchivedEvent struct {
	Archived *entity.ArchivedWorktree  `json:"archived"`
	Sessions []*entity.ArchivedSession `json:"sessions,omitempty"`
}

// WorktreeUnarchivedEvent carries the restored worktree and its
// rehydrated sessions in original order.
type WorktreeUnarchivedEvent struct {
	Worktree *entity.Worktree  `json:"worktree"`
	Sessions []*entity.Session `json:"sessions,omitempty"`
}

// ChunkEvent appends streamed text to a session's assistant placeholder.
type ChunkEvent struct {
	SessionID  string `json:"session_id"`
	WorktreeID string `json:"worktree_id"`
	Content    string `json:"content"`
}

// ToolUseEvent attaches a tool invocation to the placeholder.
type ToolUseEvent struct {
	SessionID  string `json:"session_id"`
	WorktreeID string `json:"worktree_id"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	Input      string `json:"input,omitempty"` // JSON-encoded structured input
}

// ToolBlockEvent marks where a tool_use block appears in the content
// stream, preserving interleaving for rendering.
type ToolBlockEvent struct {
	SessionID  string `json:"session_id"`
	WorktreeID string `json:"worktree_id"`
	ToolCallID string `json:"tool_call_id"`
}

// DoneEvent signals normal stream completion.
type DoneEvent struct {
	SessionID  string `json:"session_id"`
	WorktreeID string `json:"worktree_id"`
}

// ErrorEvent signals a mid-stream failure. Accumulated partial output
// is preserved by the client; only the error itself is surfaced.
type ErrorEvent struct {
	SessionID  string `json:"session_id"`
	WorktreeID string `json:"worktree_id"`
	Error      string `json:"error"`
}

// CancelledEvent signals a user-initiated abort. UndoSend is true when
// the run was stopped before producing output, so the client may restore
// the prompt to the input box.
type CancelledEvent struct {
	SessionID  string `json:"session_id"`
	WorktreeID string `json:"worktree_id"`
	UndoSend   bool   `json:"undo_send"`
}

// SettingChangedEvent broadcasts a changed execution setting to other
// observers of the same session.
type SettingChangedEvent struct {
	SessionID string `json:"session_id"`
	Field     string `json:"field"` // model | execution_mode | thinking
	Value     string `json:"value"`
}

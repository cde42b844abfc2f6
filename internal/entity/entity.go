// Package entity defines the canonical data model shared by the sync
// engine, the control plane, and the daemon: projects, worktrees,
// sessions, messages, and their archived forms.
package entity

import "time"

// AgentKind identifies which coding agent backs a session.
type AgentKind string

const (
	AgentClaude AgentKind = "claude"
	AgentCodex  AgentKind = "codex"
	AgentMock   AgentKind = "mock"
)

// Project is a registered repository that owns worktrees.
type Project struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Path          string `json:"path"`
	DefaultBranch string `json:"default_branch"`
	SortKey       int    `json:"sort_key"`
}

// WorktreeKind distinguishes the project's singleton base worktree from
// ad hoc feature worktrees.
type WorktreeKind string

const (
	WorktreeBase    WorktreeKind = "base"
	WorktreeFeature WorktreeKind = "feature"
)

// WorktreeStatus is the confirmation state of a worktree on the client.
// A worktree is pending from optimistic insert until the backend
// confirms it (push event or fallback poll), ready once confirmed, and
// errored when reconciliation gave up.
type WorktreeStatus string

const (
	WorktreePending WorktreeStatus = "pending"
	WorktreeReady   WorktreeStatus = "ready"
	WorktreeError   WorktreeStatus = "error"
)

// Worktree is an isolated working copy (branch + directory) hosting one
// session lineage.
type Worktree struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	Name       string         `json:"name"`
	Path       string         `json:"path"`
	Branch     string         `json:"branch"`
	Kind       WorktreeKind   `json:"kind"`
	Status     WorktreeStatus `json:"status"`
	StatusNote string         `json:"status_note,omitempty"` // set when Status is error (e.g. "creation not confirmed")
	SortKey    int            `json:"sort_key"`
	CreatedAt  time.Time      `json:"created_at"`
	ArchivedAt *time.Time     `json:"archived_at,omitempty"`
}

// ThinkingLevel is the agent reasoning-effort knob, passed through
// opaquely to the runner.
type ThinkingLevel string

const (
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// Session is one conversational thread with an agent, scoped to a worktree.
type Session struct {
	ID              string        `json:"id"`
	WorktreeID      string        `json:"worktree_id"`
	Name            string        `json:"name"`
	SortKey         int           `json:"sort_key"`
	CreatedAt       time.Time     `json:"created_at"`
	Agent           AgentKind     `json:"agent"`
	Model           string        `json:"model,omitempty"`
	ExecutionMode   string        `json:"execution_mode,omitempty"` // plan | build | yolo
	Thinking        ThinkingLevel `json:"thinking,omitempty"`
	ArchivedAt      *time.Time    `json:"archived_at,omitempty"`
	Messages        []*Message    `json:"messages,omitempty"`
	WaitingForInput bool          `json:"waiting_for_input,omitempty"`
	AnsweredIDs     []string      `json:"answered_ids,omitempty"` // question ids already answered
}

// Answered reports whether the given question id has been answered.
func (s *Session) Answered(questionID string) bool {
	for _, id := range s.AnsweredIDs {
		if id == questionID {
			return true
		}
	}
	return false
}

// Role is the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType categorizes a content block within a message.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
)

// ContentBlock preserves the interleaving of text and tool-use
// references within an assistant message, which matters for rendering
// order.
type ContentBlock struct {
	Type       BlockType `json:"type"`
	Text       string    `json:"text,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
}

// ToolCall records a tool invocation attached to a message.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input,omitempty"` // structured input, JSON-encoded
}

// Message is one turn in a session. Messages are append-only and
// strictly timestamp-ordered; the only mutations are finalizing a
// streaming placeholder and attaching plan-approval metadata.
type Message struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	Role         Role           `json:"role"`
	Content      string         `json:"content"`
	Blocks       []ContentBlock `json:"blocks,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	Pending      bool           `json:"pending,omitempty"`   // optimistic, not yet acknowledged
	Cancelled    bool           `json:"cancelled,omitempty"` // stream ended by user cancellation
	StreamError  string         `json:"stream_error,omitempty"`
	PlanApproved *time.Time     `json:"plan_approved,omitempty"`
}

// Clone returns a deep copy so store readers never alias live state.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Blocks = append([]ContentBlock(nil), m.Blocks...)
	out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	return &out
}

// Clone returns a deep copy of the session including messages.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.AnsweredIDs = append([]string(nil), s.AnsweredIDs...)
	if s.Messages != nil {
		out.Messages = make([]*Message, len(s.Messages))
		for i, m := range s.Messages {
			out.Messages[i] = m.Clone()
		}
	}
	return &out
}

// Clone returns a copy of the worktree.
func (w *Worktree) Clone() *Worktree {
	if w == nil {
		return nil
	}
	out := *w
	return &out
}

// ArchivedWorktree wraps a worktree removed from the active collection.
type ArchivedWorktree struct {
	Worktree    *Worktree `json:"worktree"`
	ArchivedAt  time.Time `json:"archived_at"`
	ProjectName string    `json:"project_name"`
	SessionIDs  []string  `json:"session_ids,omitempty"`
}

// ArchivedSession wraps a session with denormalized provenance so it
// stays displayable and restorable after its worktree is deleted.
type ArchivedSession struct {
	Session      *Session  `json:"session"`
	ArchivedAt   time.Time `json:"archived_at"`
	WorktreeID   string    `json:"worktree_id"`
	WorktreeName string    `json:"worktree_name"`
	WorktreePath string    `json:"worktree_path"`
	ProjectID    string    `json:"project_id"`
	ProjectName  string    `json:"project_name"`
}

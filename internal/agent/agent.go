// Package agent starts and supervises coding-agent CLI runs, normalizing
// each provider's streamed output into a single event model.
package agent

import (
	"context"
	"fmt"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

// EventType classifies a normalized agent event.
type EventType string

const (
	// EventStarted reports the agent-side conversation id, used to
	// resume the CLI session on the next send.
	EventStarted EventType = "started"
	// EventChunk carries streamed assistant text.
	EventChunk EventType = "chunk"
	// EventToolUse reports a tool invocation.
	EventToolUse EventType = "tool_use"
	// EventDone signals normal completion.
	EventDone EventType = "done"
	// EventError signals a failed run. Partial output already emitted
	// stays valid.
	EventError EventType = "error"
)

// Event is a normalized agent event.
type Event struct {
	Type           EventType
	AgentSessionID string // started
	Content        string // chunk
	ToolID         string // tool_use
	ToolName       string // tool_use
	ToolInput      string // tool_use, JSON-encoded
	Message        string // error
}

// RunSpec defines one streamed agent turn.
type RunSpec struct {
	SessionID  string
	WorktreeID string
	WorkDir    string
	Prompt     string
	Model      string
	// ExecutionMode selects the sandbox policy: plan (read-only),
	// build (workspace-write), yolo (no sandbox).
	ExecutionMode string
	Thinking      entity.ThinkingLevel
	// Resume is the agent-side conversation id of a previous run, empty
	// for a fresh conversation.
	Resume string
}

// Run is a single in-flight agent turn.
type Run interface {
	// Events streams normalized events until the run terminates. The
	// channel closes after the terminal event.
	Events() <-chan Event
	// Stop aborts the run. Safe to call after completion.
	Stop() error
}

// Runner starts runs for one agent provider.
type Runner interface {
	Kind() entity.AgentKind
	Start(ctx context.Context, spec RunSpec) (Run, error)
}

// New constructs a runner for the requested agent.
func New(kind entity.AgentKind) (Runner, error) {
	switch kind {
	case entity.AgentCodex, "":
		return &CodexRunner{}, nil
	case entity.AgentClaude:
		return &ClaudeRunner{}, nil
	case entity.AgentMock:
		return &MockRunner{}, nil
	default:
		return nil, fmt.Errorf("unknown agent: %s", kind)
	}
}

package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

// MockRunner echoes the prompt back without spawning a process. Used by
// tests and offline development.
type MockRunner struct {
	// As is the agent the mock stands in for, reported in the echoed
	// reply. Defaults to codex.
	As entity.AgentKind
}

func (r *MockRunner) Kind() entity.AgentKind { return entity.AgentMock }

func (r *MockRunner) Start(ctx context.Context, spec RunSpec) (Run, error) {
	agentSessionID := spec.Resume
	if agentSessionID == "" {
		agentSessionID = uuid.NewString()
	}
	as := r.As
	if as == "" {
		as = entity.AgentCodex
	}

	events := make(chan Event, 4)
	events <- Event{Type: EventStarted, AgentSessionID: agentSessionID}
	events <- Event{Type: EventChunk, Content: fmt.Sprintf("[mock:%s] processed: %s", as, spec.Prompt)}
	events <- Event{Type: EventDone}
	close(events)

	return &mockRun{events: events}, nil
}

type mockRun struct {
	events chan Event
}

func (m *mockRun) Events() <-chan Event { return m.events }

func (m *mockRun) Stop() error { return nil }

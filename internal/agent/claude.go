package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/pkg/claudecode"
)

// ClaudeRunner drives the Claude Code CLI in stream-json mode.
type ClaudeRunner struct{}

func (r *ClaudeRunner) Kind() entity.AgentKind { return entity.AgentClaude }

func (r *ClaudeRunner) Start(ctx context.Context, spec RunSpec) (Run, error) {
	opts := &claudecode.SpawnOptions{
		SessionID:      spec.SessionID,
		Resume:         spec.Resume,
		WorkDir:        spec.WorkDir,
		Prompt:         spec.Prompt,
		Model:          spec.Model,
		PermissionMode: claudePermissionMode(spec.ExecutionMode),
	}

	proc, err := claudecode.Spawn(ctx, opts)
	if err != nil {
		return nil, err
	}

	run := &claudeRun{
		proc:   proc,
		events: make(chan Event, 100),
	}
	go run.forward()
	return run, nil
}

func claudePermissionMode(executionMode string) string {
	switch executionMode {
	case "build":
		return "acceptEdits"
	case "yolo":
		return "bypassPermissions"
	default: // plan
		return "plan"
	}
}

type claudeRun struct {
	proc   *claudecode.Process
	events chan Event

	mu      sync.Mutex
	stopped bool
}

func (c *claudeRun) Events() <-chan Event { return c.events }

func (c *claudeRun) Stop() error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return c.proc.Kill()
}

// forward folds the claudecode stream into the normalized model with
// exactly one terminal event.
func (c *claudeRun) forward() {
	defer close(c.events)

	terminal := false
	for ev := range c.proc.Events() {
		if ev == nil {
			continue
		}
		switch {
		case ev.Type == claudecode.EventTypeSystem && ev.Subtype == "init":
			c.events <- Event{Type: EventStarted, AgentSessionID: ev.SessionID}

		case ev.Type == claudecode.EventTypeAssistant && ev.Content != "":
			c.events <- Event{Type: EventChunk, Content: ev.Content}

		case ev.IsToolUse():
			c.events <- Event{Type: EventToolUse, ToolID: ev.ToolID, ToolName: ev.Name, ToolInput: string(ev.Input)}

		case ev.IsComplete():
			if ev.IsError() {
				msg := ev.Content
				if msg == "" {
					msg = "claude run failed"
				}
				c.events <- Event{Type: EventError, Message: msg}
			} else {
				c.events <- Event{Type: EventDone}
			}
			terminal = true
			c.proc.Kill()
		}
		if terminal {
			break
		}
	}

	if !terminal {
		<-c.proc.Done()
		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return // cancellation is reported by the caller, not the stream
		}
		if code := c.proc.ExitCode(); code != 0 {
			c.events <- Event{Type: EventError, Message: fmt.Sprintf("claude exited with code %d", code)}
		} else {
			c.events <- Event{Type: EventDone}
		}
	}
}

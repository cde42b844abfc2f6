package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/executil"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/logging"
)

// CodexRunner drives `codex exec --json`, one process per turn.
type CodexRunner struct{}

func (r *CodexRunner) Kind() entity.AgentKind { return entity.AgentCodex }

// buildCodexArgs assembles the CLI invocation. Argument order matters:
// global flags come before `exec`, exec-level options before the
// `resume` token (`exec resume` accepts fewer flags), and the trailing
// "-" reads the prompt from stdin.
func buildCodexArgs(spec RunSpec) []string {
	args := []string{"--ask-for-approval", "never", "exec", "--skip-git-repo-check"}

	if spec.WorkDir != "" {
		args = append(args, "--cd", spec.WorkDir)
	}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	if spec.Thinking != "" {
		args = append(args, "--config", fmt.Sprintf("model_reasoning_effort=%q", string(spec.Thinking)))
	}

	switch spec.ExecutionMode {
	case "build":
		args = append(args, "--sandbox", "workspace-write")
	case "yolo":
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	default: // plan
		args = append(args, "--sandbox", "read-only")
	}

	args = append(args, "--json")

	if spec.Resume != "" {
		args = append(args, "resume", spec.Resume)
	}

	args = append(args, "-")
	return args
}

func (r *CodexRunner) Start(ctx context.Context, spec RunSpec) (Run, error) {
	args := buildCodexArgs(spec)
	cmd, err := executil.CommandContext(ctx, "codex", args...)
	if err != nil {
		return nil, err
	}
	cmd.Env = append(cmd.Env,
		"JEAN_SESSION_ID="+spec.SessionID,
		"JEAN_WORKTREE_ID="+spec.WorktreeID,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start codex: %w", err)
	}

	run := &codexRun{
		ctx:    ctx,
		cmd:    cmd,
		events: make(chan Event, 100),
	}

	go func() {
		io.WriteString(stdin, spec.Prompt)
		stdin.Close()
	}()
	go run.readLoop(stdout)

	return run, nil
}

type codexRun struct {
	ctx    context.Context
	cmd    *exec.Cmd
	events chan Event

	mu      sync.Mutex
	stopped bool
}

func (c *codexRun) Events() <-chan Event { return c.events }

func (c *codexRun) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	c.stopped = true
	if c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}

// codexExecEvent mirrors the `codex exec --json` JSONL stream.
type codexExecEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Message string           `json:"message,omitempty"`
	Item    *codexThreadItem `json:"item,omitempty"`
}

type codexThreadItem struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Text    string          `json:"text,omitempty"`
	Command string          `json:"command,omitempty"`
	Server  string          `json:"server,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Args    json.RawMessage `json:"arguments,omitempty"`
	Changes json.RawMessage `json:"changes,omitempty"`
	Query   string          `json:"query,omitempty"`
	Message string          `json:"message,omitempty"`
}

// emit delivers an event unless the run context ends first. The
// consumer stops draining after a terminal event, so an unguarded send
// could wedge this goroutine once the buffer fills.
func (c *codexRun) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// readLoop folds the codex event stream into the normalized model and
// guarantees exactly one terminal event before closing.
func (c *codexRun) readLoop(stdout io.Reader) {
	defer close(c.events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	terminal := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev codexExecEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			logging.Debug("skipping unparseable codex line", "error", err)
			continue
		}

		out, isTerminal := translateCodexEvent(&ev)
		for _, e := range out {
			if !c.emit(e) {
				c.cmd.Wait()
				return
			}
		}
		if isTerminal {
			terminal = true
		}
	}

	err := c.cmd.Wait()
	if terminal {
		return
	}
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return // cancellation is reported by the caller, not the stream
	}
	if err != nil {
		c.emit(Event{Type: EventError, Message: fmt.Sprintf("codex exited: %v", err)})
	} else {
		c.emit(Event{Type: EventDone})
	}
}

// translateCodexEvent maps one stream line to normalized events and
// reports whether it carries a terminal turn state.
func translateCodexEvent(ev *codexExecEvent) ([]Event, bool) {
	switch ev.Type {
	case "thread.started":
		return []Event{{Type: EventStarted, AgentSessionID: ev.ThreadID}}, false

	case "item.completed":
		if ev.Item == nil {
			return nil, false
		}
		return itemEvents(ev.Item), false

	case "turn.completed":
		return []Event{{Type: EventDone}}, true

	case "turn.failed":
		msg := "turn failed"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		return []Event{{Type: EventError, Message: msg}}, true

	case "error":
		return []Event{{Type: EventError, Message: ev.Message}}, true
	}
	return nil, false
}

func itemEvents(item *codexThreadItem) []Event {
	switch item.Type {
	case "agent_message":
		if item.Text == "" {
			return nil
		}
		return []Event{{Type: EventChunk, Content: item.Text}}

	case "command_execution":
		input, _ := json.Marshal(map[string]string{"command": item.Command})
		return []Event{{Type: EventToolUse, ToolID: item.ID, ToolName: "bash", ToolInput: string(input)}}

	case "mcp_tool_call":
		return []Event{{Type: EventToolUse, ToolID: item.ID, ToolName: item.Tool, ToolInput: string(item.Args)}}

	case "file_change":
		return []Event{{Type: EventToolUse, ToolID: item.ID, ToolName: "edit_files", ToolInput: string(item.Changes)}}

	case "web_search":
		input, _ := json.Marshal(map[string]string{"query": item.Query})
		return []Event{{Type: EventToolUse, ToolID: item.ID, ToolName: "web_search", ToolInput: string(input)}}

	case "error":
		return []Event{{Type: EventChunk, Content: item.Message}}
	}
	return nil
}

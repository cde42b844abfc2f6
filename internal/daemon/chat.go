package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/agent"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/logging"
)

// handleSendChat persists the user message, spawns one agent turn, and
// streams its events to connected clients. At most one run per session.
func (d *Daemon) handleSendChat(params json.RawMessage) (any, error) {
	var req control.SendChatRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if req.Text == "" {
		return nil, fmt.Errorf("text is required")
	}

	session, err := d.store.GetSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, control.ErrNotFound
	}
	wt, err := d.store.GetWorktree(req.WorktreeID)
	if err != nil {
		return nil, err
	}
	if wt == nil {
		return nil, control.ErrNotFound
	}

	// Reserve the session's run slot before any side effects: two
	// concurrent sends must never both pass the busy check. The
	// reservation is released by cr.finish on every exit path.
	runCtx, cancel := context.WithCancel(d.ctx)
	cr := &chatRun{
		daemon:     d,
		sessionID:  req.SessionID,
		worktreeID: req.WorktreeID,
		cancel:     cancel,
	}
	d.runsMu.Lock()
	if _, busy := d.runs[req.SessionID]; busy {
		d.runsMu.Unlock()
		cancel()
		return nil, control.ErrBusy
	}
	d.runs[req.SessionID] = cr
	d.runsMu.Unlock()

	// An answer to a suspended question arrives as an encoded prefix:
	// record the answered id, clear the suspension, and forward only the
	// answer text to the agent.
	prompt := req.Text
	if questionID, rest, ok := control.ParseAnswer(req.Text); ok {
		if err := d.store.AddAnsweredQuestion(req.SessionID, questionID); err != nil {
			cr.finish()
			return nil, err
		}
		if err := d.store.SetSessionWaiting(req.SessionID, false); err != nil {
			cr.finish()
			return nil, err
		}
		prompt = rest
	}

	userMsg := &entity.Message{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Role:      entity.RoleUser,
		Content:   req.Text,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.CreateMessage(userMsg); err != nil {
		cr.finish()
		return nil, err
	}
	cr.userMsgID = userMsg.ID

	spec := d.runSpec(session, wt, req, prompt)
	kind := session.Agent
	if req.Agent != "" {
		kind = req.Agent
	}
	runner, err := d.newRunner(kind)
	if err != nil {
		cr.finish()
		return nil, err
	}

	resume, err := d.store.GetAgentSessionID(req.SessionID)
	if err != nil {
		cr.finish()
		return nil, err
	}
	spec.Resume = resume

	run, err := runner.Start(runCtx, spec)
	if err != nil {
		cr.finish()
		d.store.DeleteMessage(userMsg.ID)
		return nil, &control.TransientError{Err: err}
	}
	cr.setRun(run)

	d.wg.Add(1)
	go cr.loop()

	logging.Info("chat run started", "session", req.SessionID, "agent", kind)
	return userMsg, nil
}

func (d *Daemon) runSpec(session *entity.Session, wt *entity.Worktree, req control.SendChatRequest, prompt string) agent.RunSpec {
	spec := agent.RunSpec{
		SessionID:     session.ID,
		WorktreeID:    wt.ID,
		WorkDir:       wt.Path,
		Prompt:        prompt,
		Model:         session.Model,
		ExecutionMode: session.ExecutionMode,
		Thinking:      session.Thinking,
	}
	if req.Model != "" {
		spec.Model = req.Model
	}
	if req.Mode != "" {
		spec.ExecutionMode = req.Mode
	}
	if req.Thinking != "" {
		spec.Thinking = req.Thinking
	}
	return spec
}

// handleCancelChat aborts the in-flight run for a session. Returns false
// when nothing was running.
func (d *Daemon) handleCancelChat(params json.RawMessage) (any, error) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	d.runsMu.Lock()
	cr, ok := d.runs[req.SessionID]
	d.runsMu.Unlock()
	if !ok {
		return false, nil
	}

	cr.stop(true)
	logging.Info("chat run cancelled", "session", req.SessionID)
	return true, nil
}

// chatRun owns one streaming agent turn for a session. It is inserted
// into the daemon's run map as the slot reservation before the runner
// starts, so run may still be nil when another handler sees it.
type chatRun struct {
	daemon     *Daemon
	sessionID  string
	worktreeID string
	userMsgID  string
	cancel     context.CancelFunc

	mu        sync.Mutex
	run       agent.Run // nil until the runner has started
	cancelled bool
}

func (c *chatRun) setRun(run agent.Run) {
	c.mu.Lock()
	c.run = run
	c.mu.Unlock()
}

// stop aborts the run. byUser marks the abort as an explicit
// cancellation rather than daemon shutdown.
func (c *chatRun) stop(byUser bool) {
	c.mu.Lock()
	if byUser {
		c.cancelled = true
	}
	run := c.run
	c.mu.Unlock()
	if run != nil {
		run.Stop()
	}
	c.cancel()
}

// loop folds the run's events into an assistant message, broadcasting
// each step, and persists the terminal result. Accumulated partial
// output survives errors and cancellation.
func (c *chatRun) loop() {
	defer c.daemon.wg.Done()
	defer c.finish()

	d := c.daemon
	msg := &entity.Message{
		ID:        uuid.NewString(),
		SessionID: c.sessionID,
		Role:      entity.RoleAssistant,
		CreatedAt: time.Now().UTC(),
	}

	for ev := range c.run.Events() {
		switch ev.Type {
		case agent.EventStarted:
			if ev.AgentSessionID != "" {
				d.store.SetAgentSessionID(c.sessionID, ev.AgentSessionID)
			}

		case agent.EventChunk:
			msg.Content += ev.Content
			if n := len(msg.Blocks); n > 0 && msg.Blocks[n-1].Type == entity.BlockText {
				msg.Blocks[n-1].Text += ev.Content
			} else {
				msg.Blocks = append(msg.Blocks, entity.ContentBlock{Type: entity.BlockText, Text: ev.Content})
			}
			d.broadcast(control.EventChatChunk, control.ChunkEvent{
				SessionID:  c.sessionID,
				WorktreeID: c.worktreeID,
				Content:    ev.Content,
			})

		case agent.EventToolUse:
			msg.ToolCalls = append(msg.ToolCalls, entity.ToolCall{
				ID:    ev.ToolID,
				Name:  ev.ToolName,
				Input: ev.ToolInput,
			})
			msg.Blocks = append(msg.Blocks, entity.ContentBlock{
				Type:       entity.BlockToolUse,
				ToolCallID: ev.ToolID,
			})
			d.broadcast(control.EventChatToolUse, control.ToolUseEvent{
				SessionID:  c.sessionID,
				WorktreeID: c.worktreeID,
				ID:         ev.ToolID,
				Name:       ev.ToolName,
				Input:      ev.ToolInput,
			})
			d.broadcast(control.EventChatToolBlock, control.ToolBlockEvent{
				SessionID:  c.sessionID,
				WorktreeID: c.worktreeID,
				ToolCallID: ev.ToolID,
			})
			if ev.ToolName == control.QuestionToolName {
				d.store.SetSessionWaiting(c.sessionID, true)
			}

		case agent.EventDone:
			c.persist(msg)
			d.broadcast(control.EventChatDone, control.DoneEvent{
				SessionID:  c.sessionID,
				WorktreeID: c.worktreeID,
			})
			return

		case agent.EventError:
			msg.StreamError = ev.Message
			c.persist(msg)
			d.broadcast(control.EventChatError, control.ErrorEvent{
				SessionID:  c.sessionID,
				WorktreeID: c.worktreeID,
				Error:      ev.Message,
			})
			return
		}
	}

	// Stream ended without a terminal event: the run was stopped.
	c.mu.Lock()
	cancelled := c.cancelled
	c.mu.Unlock()
	if !cancelled {
		// Daemon shutdown. Keep whatever accumulated.
		msg.Cancelled = true
		c.persist(msg)
		return
	}

	msg.Cancelled = true
	undoSend := !c.persist(msg)
	if undoSend {
		// Nothing streamed back yet: withdraw the optimistic user
		// message so the client can restore the prompt.
		d.store.DeleteMessage(c.userMsgID)
	}
	d.broadcast(control.EventChatCancelled, control.CancelledEvent{
		SessionID:  c.sessionID,
		WorktreeID: c.worktreeID,
		UndoSend:   undoSend,
	})
}

// persist stores the assistant message when it carries any output or a
// stream error. Reports whether something was stored.
func (c *chatRun) persist(msg *entity.Message) bool {
	if msg.Content == "" && len(msg.Blocks) == 0 && len(msg.ToolCalls) == 0 && msg.StreamError == "" {
		return false
	}
	if err := c.daemon.store.CreateMessage(msg); err != nil {
		logging.Error("failed to persist assistant message", "session", c.sessionID, "error", err)
		return false
	}
	return true
}

func (c *chatRun) finish() {
	c.cancel()
	c.daemon.runsMu.Lock()
	delete(c.daemon.runs, c.sessionID)
	c.daemon.runsMu.Unlock()
}

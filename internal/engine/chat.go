package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/logging"
)

// StreamState is the chat state machine per session.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamStreaming
	StreamDone
	StreamErrored
	StreamCancelled
)

// QuestionToolName suspends the session until an answer is submitted.
const QuestionToolName = control.QuestionToolName

// DefaultQueueLimit bounds the per-session outgoing message queue.
// Overflow rejects the newest send with ErrQueueFull.
const DefaultQueueLimit = 8

// ErrQueueFull reports a send rejected because the session already has
// the maximum number of queued follow-ups.
var ErrQueueFull = fmt.Errorf("outgoing message queue is full")

// questionInput is the structured input of a QuestionToolName call.
type questionInput struct {
	ID string `json:"id"`
}

type chatState struct {
	state         StreamState
	placeholderID string
	userMsgID     string // optimistic user message of the current send
	queue         []control.SendChatRequest
}

// ChatReducer consumes ordered streaming events for sessions and folds
// them into finalized messages. Partial output is never silently
// dropped: on error or cancellation whatever accumulated so far is
// finalized into a terminal assistant message.
type ChatReducer struct {
	backend Backend
	store   *Store

	queueLimit int

	// onStreamError surfaces a mid-stream failure separately from the
	// preserved partial message. May be nil.
	onStreamError func(sessionID string, errText string)
	// onUndoSend restores a prompt to the caller's input box after an
	// instant cancellation. May be nil.
	onUndoSend func(sessionID, text string)
	// refetch invalidates the session after normal completion: the
	// backend's persisted state wins over whatever was streamed. May be
	// nil in tests.
	refetch func(sessionID string)

	mu       sync.Mutex
	sessions map[string]*chatState
}

// NewChatReducer creates a reducer over the given backend and store.
func NewChatReducer(backend Backend, store *Store, queueLimit int) *ChatReducer {
	if queueLimit <= 0 {
		queueLimit = DefaultQueueLimit
	}
	return &ChatReducer{
		backend:    backend,
		store:      store,
		queueLimit: queueLimit,
		sessions:   make(map[string]*chatState),
	}
}

func (r *ChatReducer) state(sessionID string) *chatState {
	if st, ok := r.sessions[sessionID]; ok {
		return st
	}
	st := &chatState{state: StreamIdle}
	r.sessions[sessionID] = st
	return st
}

// State returns the current stream state for a session.
func (r *ChatReducer) State(sessionID string) StreamState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state(sessionID).state
}

// QueueLen returns the number of queued follow-up sends for a session.
func (r *ChatReducer) QueueLen(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state(sessionID).queue)
}

// Send submits a user message. If a send is already streaming for the
// session the request is queued FIFO (bounded); it is dispatched
// automatically once the prior send reaches a terminal state.
func (r *ChatReducer) Send(req control.SendChatRequest) error {
	if r.store.Session(req.SessionID) == nil {
		return control.ErrNotFound
	}

	r.mu.Lock()
	st := r.state(req.SessionID)
	if st.state == StreamStreaming {
		if len(st.queue) >= r.queueLimit {
			r.mu.Unlock()
			return ErrQueueFull
		}
		st.queue = append(st.queue, req)
		r.mu.Unlock()
		return nil
	}
	st.state = StreamStreaming
	r.mu.Unlock()

	r.startSend(req)
	return nil
}

// startSend appends the optimistic user message and the assistant
// placeholder, then issues the backend call.
func (r *ChatReducer) startSend(req control.SendChatRequest) {
	sess := r.store.Session(req.SessionID)
	if sess == nil {
		r.mu.Lock()
		r.state(req.SessionID).state = StreamIdle
		r.mu.Unlock()
		return
	}

	now := time.Now()
	userID := ""

	// De-duplicate: if the tail is already an identical pending user
	// message (e.g. a retry), do not re-append it.
	if n := len(sess.Messages); n > 0 {
		last := sess.Messages[n-1]
		if last.Role == entity.RoleUser && last.Pending && last.Content == req.Text {
			userID = last.ID
		}
	}
	if userID == "" {
		userID = uuid.NewString()
		sess.Messages = append(sess.Messages, &entity.Message{
			ID:        userID,
			SessionID: sess.ID,
			Role:      entity.RoleUser,
			Content:   req.Text,
			CreatedAt: now,
			Pending:   true,
		})
	}

	placeholderID := uuid.NewString()
	sess.Messages = append(sess.Messages, &entity.Message{
		ID:        placeholderID,
		SessionID: sess.ID,
		Role:      entity.RoleAssistant,
		CreatedAt: now.Add(time.Millisecond),
		Pending:   true,
	})
	r.store.UpsertSession(sess)

	r.mu.Lock()
	st := r.state(req.SessionID)
	st.placeholderID = placeholderID
	st.userMsgID = userID
	r.mu.Unlock()

	go func() {
		if _, err := r.backend.SendChat(req); err != nil {
			// The stream never started; reduce the failure locally so
			// the session cannot hang in a permanently sending state.
			r.HandleError(control.ErrorEvent{SessionID: req.SessionID, Error: err.Error()})
		}
	}()
}

// Cancel aborts the in-flight send. The backend is told to stop the
// run; if nothing was running the local state machine is unwound
// immediately so the UI never sticks in "sending".
func (r *ChatReducer) Cancel(sessionID string) error {
	running, err := r.backend.CancelChat(sessionID)
	if err != nil {
		return err
	}
	if !running {
		r.HandleCancelled(control.CancelledEvent{SessionID: sessionID})
	}
	return nil
}

// Answer submits the user's answer to a suspended structured question:
// it clears the suspension, records the answered question id, and sends
// a follow-up whose payload encodes the answer in a form the backend
// can parse back into structured state.
func (r *ChatReducer) Answer(sessionID, questionID, answer string) error {
	sess := r.store.Session(sessionID)
	if sess == nil {
		return control.ErrNotFound
	}
	sess.WaitingForInput = false
	if !sess.Answered(questionID) {
		sess.AnsweredIDs = append(sess.AnsweredIDs, questionID)
	}
	r.store.UpsertSession(sess)

	return r.Send(control.SendChatRequest{
		WorktreeID: sess.WorktreeID,
		SessionID:  sessionID,
		Text:       control.FormatAnswer(questionID, answer),
		Agent:      sess.Agent,
		Model:      sess.Model,
		Mode:       sess.ExecutionMode,
		Thinking:   sess.Thinking,
	})
}

// --- Event handlers (called by the listener, in emission order) ---

// HandleChunk concatenates streamed text into the placeholder and
// extends its ordered block list.
func (r *ChatReducer) HandleChunk(ev control.ChunkEvent) {
	r.withPlaceholder(ev.SessionID, func(msg *entity.Message) {
		msg.Content += ev.Content
		if n := len(msg.Blocks); n > 0 && msg.Blocks[n-1].Type == entity.BlockText {
			msg.Blocks[n-1].Text += ev.Content
		} else {
			msg.Blocks = append(msg.Blocks, entity.ContentBlock{Type: entity.BlockText, Text: ev.Content})
		}
	})
}

// HandleToolUse attaches a tool call record to the placeholder and
// appends a corresponding block, preserving interleaving with text.
// A question tool suspends the session until answered.
func (r *ChatReducer) HandleToolUse(ev control.ToolUseEvent) {
	r.withSessionPlaceholder(ev.SessionID, func(sess *entity.Session, msg *entity.Message) {
		msg.ToolCalls = append(msg.ToolCalls, entity.ToolCall{ID: ev.ID, Name: ev.Name, Input: ev.Input})
		msg.Blocks = append(msg.Blocks, entity.ContentBlock{Type: entity.BlockToolUse, ToolCallID: ev.ID})

		if ev.Name == QuestionToolName {
			var q questionInput
			if err := json.Unmarshal([]byte(ev.Input), &q); err == nil && q.ID != "" && !sess.Answered(q.ID) {
				sess.WaitingForInput = true
			}
		}
	})
}

// HandleToolBlock records the stream position of a tool_use block.
// Idempotent: a block already appended by HandleToolUse is not
// duplicated.
func (r *ChatReducer) HandleToolBlock(ev control.ToolBlockEvent) {
	r.withPlaceholder(ev.SessionID, func(msg *entity.Message) {
		for _, b := range msg.Blocks {
			if b.Type == entity.BlockToolUse && b.ToolCallID == ev.ToolCallID {
				return
			}
		}
		msg.Blocks = append(msg.Blocks, entity.ContentBlock{Type: entity.BlockToolUse, ToolCallID: ev.ToolCallID})
	})
}

// HandleDone finalizes the placeholder into an immutable message and
// invalidates the session so the backend's persisted state is refetched
// rather than trusted as-is (recovery/replay can make the two differ).
func (r *ChatReducer) HandleDone(ev control.DoneEvent) {
	r.finalize(ev.SessionID, StreamDone, "", false)
	if r.refetch != nil {
		r.refetch(ev.SessionID)
	}
	r.drain(ev.SessionID)
}

// HandleError preserves whatever accumulated so far as a terminal
// assistant message and surfaces the error separately. Partial agent
// output is usually more useful to the user than nothing.
func (r *ChatReducer) HandleError(ev control.ErrorEvent) {
	r.finalize(ev.SessionID, StreamErrored, ev.Error, false)
	if r.onStreamError != nil {
		r.onStreamError(ev.SessionID, ev.Error)
	}
	r.drain(ev.SessionID)
}

// HandleCancelled is the error path tagged as user-initiated: partial
// output is preserved, no error is surfaced.
func (r *ChatReducer) HandleCancelled(ev control.CancelledEvent) {
	undoText := r.finalize(ev.SessionID, StreamCancelled, "", ev.UndoSend)
	if ev.UndoSend && undoText != "" && r.onUndoSend != nil {
		r.onUndoSend(ev.SessionID, undoText)
	}
	r.drain(ev.SessionID)
}

// finalize flips the state machine into a terminal state and finalizes
// the placeholder. When undoSend is set the optimistic user message is
// withdrawn and its text returned. An empty placeholder (no content, no
// tool calls) is removed rather than finalized.
func (r *ChatReducer) finalize(sessionID string, terminal StreamState, errText string, undoSend bool) (undoText string) {
	r.mu.Lock()
	st := r.state(sessionID)
	if st.state != StreamStreaming {
		r.mu.Unlock()
		return "" // duplicate terminal event; already finalized
	}
	st.state = terminal
	placeholderID := st.placeholderID
	userMsgID := st.userMsgID
	st.placeholderID = ""
	st.userMsgID = ""
	r.mu.Unlock()

	sess := r.store.Session(sessionID)
	if sess == nil {
		return ""
	}

	kept := sess.Messages[:0]
	for _, msg := range sess.Messages {
		switch msg.ID {
		case placeholderID:
			if msg.Content == "" && len(msg.ToolCalls) == 0 {
				continue // nothing accumulated; drop the placeholder
			}
			msg.Pending = false
			msg.Cancelled = terminal == StreamCancelled
			msg.StreamError = errText
		case userMsgID:
			if undoSend {
				undoText = msg.Content
				continue
			}
			msg.Pending = false
		}
		kept = append(kept, msg)
	}
	sess.Messages = kept
	r.store.UpsertSession(sess)
	return undoText
}

// ApplyRefetched replaces the cached session with a refetched snapshot.
// The refetch runs asynchronously, so a queued send may have been
// drained between the terminal event and the snapshot landing; the
// snapshot predates that send, and blindly replacing the session would
// drop its optimistic user message and placeholder. Carry them over so
// the in-flight stream keeps its target.
func (r *ChatReducer) ApplyRefetched(sess *entity.Session) {
	if sess == nil {
		return
	}

	r.mu.Lock()
	st := r.state(sess.ID)
	streaming := st.state == StreamStreaming
	placeholderID := st.placeholderID
	userMsgID := st.userMsgID
	r.mu.Unlock()

	if streaming {
		if cached := r.store.Session(sess.ID); cached != nil {
			present := make(map[string]bool, len(sess.Messages))
			for _, m := range sess.Messages {
				present[m.ID] = true
			}
			for _, m := range cached.Messages {
				if (m.ID == userMsgID || m.ID == placeholderID) && !present[m.ID] {
					sess.Messages = append(sess.Messages, m)
				}
			}
		}
	}
	r.store.UpsertSession(sess)
}

// drain dispatches the next queued send, if any, strictly FIFO and one
// at a time, only after the prior send reached a terminal state.
func (r *ChatReducer) drain(sessionID string) {
	r.mu.Lock()
	st := r.state(sessionID)
	if st.state == StreamStreaming || len(st.queue) == 0 {
		r.mu.Unlock()
		return
	}
	next := st.queue[0]
	st.queue = st.queue[1:]
	st.state = StreamStreaming
	r.mu.Unlock()

	r.startSend(next)
}

// withPlaceholder mutates the current placeholder through the store's
// upsert contract.
func (r *ChatReducer) withPlaceholder(sessionID string, fn func(*entity.Message)) {
	r.withSessionPlaceholder(sessionID, func(_ *entity.Session, msg *entity.Message) { fn(msg) })
}

func (r *ChatReducer) withSessionPlaceholder(sessionID string, fn func(*entity.Session, *entity.Message)) {
	r.mu.Lock()
	st := r.state(sessionID)
	placeholderID := st.placeholderID
	streaming := st.state == StreamStreaming
	r.mu.Unlock()

	if !streaming || placeholderID == "" {
		logging.Debug("dropping stream event for non-streaming session", "session", sessionID)
		return
	}

	sess := r.store.Session(sessionID)
	if sess == nil {
		return
	}
	for _, msg := range sess.Messages {
		if msg.ID == placeholderID {
			fn(sess, msg)
			r.store.UpsertSession(sess)
			return
		}
	}
}

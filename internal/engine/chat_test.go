package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

func newChatFixture(queueLimit int) (*fakeBackend, *Store, *ChatReducer) {
	f := newFakeBackend()
	s := NewStore()
	s.UpsertWorktree(testWorktree("wt-1", "proj-1", entity.WorktreeFeature, 1))
	s.UpsertSession(testSession("sess-1", "wt-1", 1))
	return f, s, NewChatReducer(f, s, queueLimit)
}

func sendReq(text string) control.SendChatRequest {
	return control.SendChatRequest{WorktreeID: "wt-1", SessionID: "sess-1", Text: text}
}

func assistantTail(t *testing.T, s *Store) *entity.Message {
	t.Helper()
	sess := s.Session("sess-1")
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == entity.RoleAssistant {
			return sess.Messages[i]
		}
	}
	t.Fatal("no assistant message in session")
	return nil
}

func TestSendAppendsOptimisticPair(t *testing.T) {
	f, s, r := newChatFixture(0)

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	sess := s.Session("sess-1")
	if len(sess.Messages) != 2 {
		t.Fatalf("expected user message + placeholder, got %d messages", len(sess.Messages))
	}
	user, placeholder := sess.Messages[0], sess.Messages[1]
	if user.Role != entity.RoleUser || !user.Pending || user.Content != "hello" {
		t.Errorf("unexpected optimistic user message: %+v", user)
	}
	if placeholder.Role != entity.RoleAssistant || !placeholder.Pending {
		t.Errorf("unexpected placeholder: %+v", placeholder)
	}
	if got := r.State("sess-1"); got != StreamStreaming {
		t.Errorf("expected streaming state, got %v", got)
	}

	waitFor(t, "backend send", func() bool { return len(f.sent()) == 1 })
}

func TestSendUnknownSession(t *testing.T) {
	_, _, r := newChatFixture(0)
	err := r.Send(control.SendChatRequest{SessionID: "nope", Text: "hi"})
	if !errors.Is(err, control.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestErrorPreservesPartialOutput(t *testing.T) {
	_, s, r := newChatFixture(0)

	var surfaced string
	r.onStreamError = func(sessionID, errText string) { surfaced = errText }

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "A"})
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "B"})
	r.HandleError(control.ErrorEvent{SessionID: "sess-1", Error: "agent crashed"})

	msg := assistantTail(t, s)
	if msg.Content != "AB" {
		t.Errorf("partial output lost: content %q, want %q", msg.Content, "AB")
	}
	if msg.Pending {
		t.Error("errored message still pending")
	}
	if msg.StreamError != "agent crashed" {
		t.Errorf("stream error not recorded: %q", msg.StreamError)
	}
	if surfaced != "agent crashed" {
		t.Errorf("error not surfaced separately: %q", surfaced)
	}
	if got := r.State("sess-1"); got != StreamErrored {
		t.Errorf("expected errored state, got %v", got)
	}

	// The user message survives finalized, never withdrawn on error.
	user := s.Session("sess-1").Messages[0]
	if user.Role != entity.RoleUser || user.Pending {
		t.Errorf("user message not finalized: %+v", user)
	}
}

func TestDoneFinalizesAndRefetches(t *testing.T) {
	_, s, r := newChatFixture(0)

	refetched := ""
	r.refetch = func(sessionID string) { refetched = sessionID }

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "done deal"})
	r.HandleDone(control.DoneEvent{SessionID: "sess-1"})

	msg := assistantTail(t, s)
	if msg.Pending || msg.Content != "done deal" {
		t.Errorf("unexpected finalized message: %+v", msg)
	}
	if refetched != "sess-1" {
		t.Errorf("completed stream must invalidate the session, refetched=%q", refetched)
	}
	if got := r.State("sess-1"); got != StreamDone {
		t.Errorf("expected done state, got %v", got)
	}
}

func TestEmptyPlaceholderDropped(t *testing.T) {
	_, s, r := newChatFixture(0)

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	r.HandleDone(control.DoneEvent{SessionID: "sess-1"})

	sess := s.Session("sess-1")
	if len(sess.Messages) != 1 {
		t.Fatalf("expected empty placeholder to be dropped, got %d messages", len(sess.Messages))
	}
	if sess.Messages[0].Role != entity.RoleUser {
		t.Errorf("surviving message is %s, want user", sess.Messages[0].Role)
	}
}

func TestDuplicateTerminalEventIgnored(t *testing.T) {
	_, s, r := newChatFixture(0)

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "out"})
	r.HandleDone(control.DoneEvent{SessionID: "sess-1"})
	r.HandleError(control.ErrorEvent{SessionID: "sess-1", Error: "late"})

	if got := r.State("sess-1"); got != StreamDone {
		t.Errorf("late terminal event flipped state to %v", got)
	}
	if msg := assistantTail(t, s); msg.StreamError != "" {
		t.Errorf("late error mutated a finalized message: %q", msg.StreamError)
	}
}

func TestChunkAfterTerminalDropped(t *testing.T) {
	_, s, r := newChatFixture(0)

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "out"})
	r.HandleDone(control.DoneEvent{SessionID: "sess-1"})
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "straggler"})

	if msg := assistantTail(t, s); msg.Content != "out" {
		t.Errorf("straggler chunk mutated finalized message: %q", msg.Content)
	}
}

func TestQueueFIFOAndBound(t *testing.T) {
	f, _, r := newChatFixture(2)

	if err := r.Send(sendReq("m1")); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := r.Send(sendReq("m2")); err != nil {
		t.Fatalf("queueing m2 failed: %v", err)
	}
	if err := r.Send(sendReq("m3")); err != nil {
		t.Fatalf("queueing m3 failed: %v", err)
	}
	if err := r.Send(sendReq("m4")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull for overflow, got %v", err)
	}
	if got := r.QueueLen("sess-1"); got != 2 {
		t.Errorf("queue length %d, want 2", got)
	}

	waitFor(t, "first backend send", func() bool { return len(f.sent()) == 1 })

	// Terminal state dispatches exactly the next queued send, in order.
	r.HandleDone(control.DoneEvent{SessionID: "sess-1"})
	waitFor(t, "second backend send", func() bool { return len(f.sent()) == 2 })
	if got := f.sent()[1].Text; got != "m2" {
		t.Errorf("queue not FIFO: second send is %q", got)
	}
	if got := r.QueueLen("sess-1"); got != 1 {
		t.Errorf("queue length after drain %d, want 1", got)
	}

	r.HandleDone(control.DoneEvent{SessionID: "sess-1"})
	waitFor(t, "third backend send", func() bool { return len(f.sent()) == 3 })
	if got := f.sent()[2].Text; got != "m3" {
		t.Errorf("queue not FIFO: third send is %q", got)
	}
}

func TestLateRefetchKeepsDrainedSend(t *testing.T) {
	f, s, r := newChatFixture(2)

	var surfaced string
	r.onStreamError = func(_, errText string) { surfaced = errText }

	if err := r.Send(sendReq("first")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := r.Send(sendReq("second")); err != nil {
		t.Fatalf("queueing second send failed: %v", err)
	}
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "done deal"})
	r.HandleDone(control.DoneEvent{SessionID: "sess-1"})
	waitFor(t, "drained backend send", func() bool { return len(f.sent()) == 2 })

	// The completed stream's refetch lands only now, with a snapshot
	// taken before the drained send existed. Replacing the session
	// wholesale would drop that send's optimistic pair.
	snapshot := testSession("sess-1", "wt-1", 1)
	snapshot.Messages = []*entity.Message{
		{ID: "u-first", SessionID: "sess-1", Role: entity.RoleUser, Content: "first"},
		{ID: "a-first", SessionID: "sess-1", Role: entity.RoleAssistant, Content: "done deal"},
	}
	r.ApplyRefetched(snapshot)

	userSeen := false
	for _, m := range s.Session("sess-1").Messages {
		if m.Role == entity.RoleUser && m.Content == "second" {
			userSeen = true
		}
	}
	if !userSeen {
		t.Fatal("stale refetch dropped the drained send's user message")
	}

	// The drained send's stream must still land in its placeholder, and
	// partial output must survive the error.
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "A"})
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "B"})
	r.HandleError(control.ErrorEvent{SessionID: "sess-1", Error: "agent crashed"})

	msg := assistantTail(t, s)
	if msg.Content != "AB" {
		t.Errorf("partial output lost after stale refetch: %q", msg.Content)
	}
	if msg.StreamError != "agent crashed" {
		t.Errorf("stream error not recorded: %q", msg.StreamError)
	}
	if surfaced != "agent crashed" {
		t.Errorf("error not surfaced separately: %q", surfaced)
	}
}

func TestRefetchWhileIdleReplacesSession(t *testing.T) {
	_, s, r := newChatFixture(0)

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "streamed"})
	r.HandleDone(control.DoneEvent{SessionID: "sess-1"})

	// No send in flight: the backend's persisted state wins outright.
	snapshot := testSession("sess-1", "wt-1", 1)
	snapshot.Messages = []*entity.Message{
		{ID: "u1", SessionID: "sess-1", Role: entity.RoleUser, Content: "hello"},
		{ID: "a1", SessionID: "sess-1", Role: entity.RoleAssistant, Content: "persisted"},
	}
	r.ApplyRefetched(snapshot)

	sess := s.Session("sess-1")
	if len(sess.Messages) != 2 {
		t.Fatalf("expected snapshot to replace the session, got %d messages", len(sess.Messages))
	}
	if got := sess.Messages[1].Content; got != "persisted" {
		t.Errorf("snapshot content not applied: %q", got)
	}
}

func TestCancelWithUndoWithdrawsUserMessage(t *testing.T) {
	f, s, r := newChatFixture(0)
	f.cancelChatFn = func(string) (bool, error) { return true, nil }

	var undone string
	r.onUndoSend = func(sessionID, text string) { undone = text }

	if err := r.Send(sendReq("draft prompt")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := r.Cancel("sess-1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	// The run stopped before producing output; the daemon confirms with
	// an undo-send cancellation.
	r.HandleCancelled(control.CancelledEvent{SessionID: "sess-1", UndoSend: true})

	if undone != "draft prompt" {
		t.Errorf("prompt not restored: %q", undone)
	}
	if got := len(s.Session("sess-1").Messages); got != 0 {
		t.Errorf("expected withdrawn user message and dropped placeholder, got %d messages", got)
	}
	if got := r.State("sess-1"); got != StreamCancelled {
		t.Errorf("expected cancelled state, got %v", got)
	}
}

func TestCancelKeepsPartialOutput(t *testing.T) {
	f, s, r := newChatFixture(0)
	f.cancelChatFn = func(string) (bool, error) { return true, nil }

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "partial"})
	if err := r.Cancel("sess-1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	r.HandleCancelled(control.CancelledEvent{SessionID: "sess-1"})

	msg := assistantTail(t, s)
	if msg.Content != "partial" {
		t.Errorf("partial output lost on cancel: %q", msg.Content)
	}
	if !msg.Cancelled {
		t.Error("message not tagged cancelled")
	}
	if msg.StreamError != "" {
		t.Errorf("cancellation is not an error, got %q", msg.StreamError)
	}
}

func TestCancelNothingRunningUnwindsLocally(t *testing.T) {
	f, _, r := newChatFixture(0)
	f.cancelChatFn = func(string) (bool, error) { return false, nil }

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := r.Cancel("sess-1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	// No cancelled event will ever arrive; the reducer must not hang in
	// a streaming state.
	if got := r.State("sess-1"); got != StreamCancelled {
		t.Errorf("expected local unwind to cancelled, got %v", got)
	}
}

func TestBackendSendFailureReducesLocally(t *testing.T) {
	f, _, r := newChatFixture(0)
	f.sendChatFn = func(control.SendChatRequest) (*entity.Message, error) {
		return nil, &control.TransientError{Err: errors.New("daemon gone")}
	}

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	waitFor(t, "failed send to reduce to errored", func() bool {
		return r.State("sess-1") == StreamErrored
	})
}

func TestToolUseInterleavingPreserved(t *testing.T) {
	_, s, r := newChatFixture(0)

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "before "})
	r.HandleToolUse(control.ToolUseEvent{SessionID: "sess-1", ID: "t1", Name: "read_file", Input: `{"path":"a.go"}`})
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "after"})
	r.HandleDone(control.DoneEvent{SessionID: "sess-1"})

	msg := assistantTail(t, s)
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].ID != "t1" {
		t.Fatalf("tool call not attached: %+v", msg.ToolCalls)
	}
	wantBlocks := []entity.ContentBlock{
		{Type: entity.BlockText, Text: "before "},
		{Type: entity.BlockToolUse, ToolCallID: "t1"},
		{Type: entity.BlockText, Text: "after"},
	}
	if len(msg.Blocks) != len(wantBlocks) {
		t.Fatalf("expected %d blocks, got %d: %+v", len(wantBlocks), len(msg.Blocks), msg.Blocks)
	}
	for i, want := range wantBlocks {
		if msg.Blocks[i] != want {
			t.Errorf("block %d: got %+v, want %+v", i, msg.Blocks[i], want)
		}
	}
}

func TestToolBlockIdempotent(t *testing.T) {
	_, s, r := newChatFixture(0)

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	r.HandleToolUse(control.ToolUseEvent{SessionID: "sess-1", ID: "t1", Name: "read_file"})
	r.HandleToolBlock(control.ToolBlockEvent{SessionID: "sess-1", ToolCallID: "t1"})
	r.HandleChunk(control.ChunkEvent{SessionID: "sess-1", Content: "x"})
	r.HandleDone(control.DoneEvent{SessionID: "sess-1"})

	msg := assistantTail(t, s)
	toolBlocks := 0
	for _, b := range msg.Blocks {
		if b.Type == entity.BlockToolUse && b.ToolCallID == "t1" {
			toolBlocks++
		}
	}
	if toolBlocks != 1 {
		t.Errorf("tool_use block duplicated: %d occurrences", toolBlocks)
	}
}

func TestQuestionSuspendsUntilAnswered(t *testing.T) {
	_, s, r := newChatFixture(0)

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	r.HandleToolUse(control.ToolUseEvent{
		SessionID: "sess-1", ID: "t1", Name: QuestionToolName, Input: `{"id":"q1"}`,
	})

	if !s.Session("sess-1").WaitingForInput {
		t.Fatal("question tool did not suspend the session")
	}

	if err := r.Answer("sess-1", "q1", "option B"); err != nil {
		t.Fatalf("answer failed: %v", err)
	}

	sess := s.Session("sess-1")
	if sess.WaitingForInput {
		t.Error("answer did not clear the suspension")
	}
	if !sess.Answered("q1") {
		t.Error("answered question id not recorded")
	}

	// The stream is still running, so the answer is queued behind it
	// with the structured encoding the backend parses.
	if got := r.QueueLen("sess-1"); got != 1 {
		t.Fatalf("expected queued answer send, queue length %d", got)
	}
	r.mu.Lock()
	queuedText := r.sessions["sess-1"].queue[0].Text
	r.mu.Unlock()
	if want := fmt.Sprintf("[answer:%s] %s", "q1", "option B"); queuedText != want {
		t.Errorf("answer encoding %q, want %q", queuedText, want)
	}

	// Redelivery of the same question event after the answer must not
	// re-suspend the session.
	r.HandleToolUse(control.ToolUseEvent{
		SessionID: "sess-1", ID: "t1", Name: QuestionToolName, Input: `{"id":"q1"}`,
	})
	if s.Session("sess-1").WaitingForInput {
		t.Error("answered question re-suspended the session")
	}
}

func TestRetryDedupesPendingUserTail(t *testing.T) {
	_, s, r := newChatFixture(0)

	sess := s.Session("sess-1")
	sess.Messages = append(sess.Messages, &entity.Message{
		ID: "u1", SessionID: "sess-1", Role: entity.RoleUser, Content: "hello", Pending: true,
	})
	s.UpsertSession(sess)

	if err := r.Send(sendReq("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	users := 0
	for _, m := range s.Session("sess-1").Messages {
		if m.Role == entity.RoleUser {
			users++
		}
	}
	if users != 1 {
		t.Errorf("retry duplicated the pending user message: %d user messages", users)
	}
}

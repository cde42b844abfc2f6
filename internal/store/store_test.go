package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	// Create temp directory for test database
	tmpDir, err := os.MkdirTemp("", "jean-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	st, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create store: %v", err)
	}

	cleanup := func() {
		st.Close()
		os.RemoveAll(tmpDir)
	}

	return st, cleanup
}

func seedProject(t *testing.T, st *Store, id string) *entity.Project {
	t.Helper()
	p := &entity.Project{ID: id, Name: id, Path: "/repos/" + id, DefaultBranch: "main"}
	if err := st.CreateProject(p); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	return p
}

func seedWorktree(t *testing.T, st *Store, id, projectID string, kind entity.WorktreeKind) *entity.Worktree {
	t.Helper()
	wt := &entity.Worktree{
		ID:        id,
		ProjectID: projectID,
		Name:      id,
		Path:      "/worktrees/" + id,
		Branch:    "jean/" + id,
		Kind:      kind,
	}
	if err := st.CreateWorktree(wt); err != nil {
		t.Fatalf("CreateWorktree failed: %v", err)
	}
	return wt
}

func seedSession(t *testing.T, st *Store, id, worktreeID string) *entity.Session {
	t.Helper()
	sess := &entity.Session{ID: id, WorktreeID: worktreeID, Name: id, Agent: entity.AgentCodex}
	if err := st.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return sess
}

// TestProjects tests project registration
func TestProjects(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	t.Run("CreateAndList", func(t *testing.T) {
		seedProject(t, st, "proj-a")
		seedProject(t, st, "proj-b")

		projects, err := st.ListProjects()
		if err != nil {
			t.Fatalf("ListProjects failed: %v", err)
		}
		if len(projects) != 2 {
			t.Fatalf("expected 2 projects, got %d", len(projects))
		}
		// Sort keys are assigned in registration order.
		if projects[0].ID != "proj-a" || projects[1].ID != "proj-b" {
			t.Errorf("unexpected order: %s, %s", projects[0].ID, projects[1].ID)
		}
	})

	t.Run("DuplicatePathRejected", func(t *testing.T) {
		err := st.CreateProject(&entity.Project{ID: "proj-c", Name: "c", Path: "/repos/proj-a"})
		if err == nil {
			t.Error("expected duplicate path to be rejected")
		}
	})

	t.Run("GetByPath", func(t *testing.T) {
		p, err := st.GetProjectByPath("/repos/proj-a")
		if err != nil {
			t.Fatalf("GetProjectByPath failed: %v", err)
		}
		if p == nil || p.ID != "proj-a" {
			t.Errorf("expected proj-a, got %v", p)
		}
	})
}

// TestWorktrees tests worktree CRUD and ordering
func TestWorktrees(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	seedProject(t, st, "proj")

	t.Run("CreateAndList", func(t *testing.T) {
		seedWorktree(t, st, "feat-1", "proj", entity.WorktreeFeature)
		seedWorktree(t, st, "base", "proj", entity.WorktreeBase)

		worktrees, err := st.ListWorktrees("proj")
		if err != nil {
			t.Fatalf("ListWorktrees failed: %v", err)
		}
		if len(worktrees) != 2 {
			t.Fatalf("expected 2 worktrees, got %d", len(worktrees))
		}
		if worktrees[0].Kind != entity.WorktreeBase {
			t.Errorf("expected base first, got %s", worktrees[0].ID)
		}
	})

	t.Run("GetByPath", func(t *testing.T) {
		wt, err := st.GetActiveWorktreeByPath("/worktrees/feat-1")
		if err != nil {
			t.Fatalf("GetActiveWorktreeByPath failed: %v", err)
		}
		if wt == nil || wt.ID != "feat-1" {
			t.Errorf("expected feat-1, got %v", wt)
		}
	})

	t.Run("BaseWorktree", func(t *testing.T) {
		wt, err := st.GetBaseWorktree("proj")
		if err != nil {
			t.Fatalf("GetBaseWorktree failed: %v", err)
		}
		if wt == nil || wt.ID != "base" {
			t.Errorf("expected base worktree, got %v", wt)
		}
	})
}

// TestArchiveCascade tests the transactional archive/unarchive cascade
func TestArchiveCascade(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	seedProject(t, st, "proj")
	seedWorktree(t, st, "feat", "proj", entity.WorktreeFeature)
	seedSession(t, st, "sess-1", "feat")
	seedSession(t, st, "sess-2", "feat")

	t.Run("Archive", func(t *testing.T) {
		archivedAt, sessionIDs, err := st.ArchiveWorktree("feat")
		if err != nil {
			t.Fatalf("ArchiveWorktree failed: %v", err)
		}
		if len(sessionIDs) != 2 {
			t.Fatalf("expected 2 cascaded sessions, got %d", len(sessionIDs))
		}

		// Gone from the active collections
		active, err := st.ListWorktrees("proj")
		if err != nil {
			t.Fatalf("ListWorktrees failed: %v", err)
		}
		if len(active) != 0 {
			t.Errorf("expected no active worktrees, got %d", len(active))
		}
		live, err := st.ListSessions("feat")
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(live) != 0 {
			t.Errorf("expected no live sessions, got %d", len(live))
		}

		// All archived entries carry the worktree's archive stamp.
		archivedSessions, err := st.ListArchivedSessions()
		if err != nil {
			t.Fatalf("ListArchivedSessions failed: %v", err)
		}
		if len(archivedSessions) != 2 {
			t.Fatalf("expected 2 archived sessions, got %d", len(archivedSessions))
		}
		for _, as := range archivedSessions {
			if !as.ArchivedAt.Equal(archivedAt) {
				t.Errorf("session %s stamp %v != worktree stamp %v", as.Session.ID, as.ArchivedAt, archivedAt)
			}
		}

		archived, err := st.ListArchivedWorktrees()
		if err != nil {
			t.Fatalf("ListArchivedWorktrees failed: %v", err)
		}
		if len(archived) != 1 || archived[0].Worktree.ID != "feat" {
			t.Fatalf("expected feat archived, got %d entries", len(archived))
		}
		if archived[0].ProjectName != "proj" {
			t.Errorf("expected denormalized project name, got %q", archived[0].ProjectName)
		}
		if len(archived[0].SessionIDs) != 2 {
			t.Errorf("expected 2 session ids on archive entry, got %d", len(archived[0].SessionIDs))
		}
	})

	t.Run("Unarchive", func(t *testing.T) {
		if err := st.UnarchiveWorktree("feat"); err != nil {
			t.Fatalf("UnarchiveWorktree failed: %v", err)
		}

		sessions, err := st.ListSessions("feat")
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(sessions) != 2 {
			t.Fatalf("expected both sessions restored, got %d", len(sessions))
		}
		if sessions[0].ID != "sess-1" || sessions[1].ID != "sess-2" {
			t.Errorf("session order lost: %s, %s", sessions[0].ID, sessions[1].ID)
		}

		archived, err := st.ListArchivedWorktrees()
		if err != nil {
			t.Fatalf("ListArchivedWorktrees failed: %v", err)
		}
		if len(archived) != 0 {
			t.Errorf("expected no archived worktrees after restore, got %d", len(archived))
		}
	})

	t.Run("IndividuallyArchivedSessionStaysArchived", func(t *testing.T) {
		// Archive the worktree, then restore: a session archived at a
		// DIFFERENT time must not be resurrected by the cascade.
		if _, _, err := st.ArchiveWorktree("feat"); err != nil {
			t.Fatalf("ArchiveWorktree failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
		if err := st.UnarchiveWorktree("feat"); err != nil {
			t.Fatalf("UnarchiveWorktree failed: %v", err)
		}
		sessions, err := st.ListSessions("feat")
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(sessions) != 2 {
			t.Errorf("cascade restore resurrected the wrong sessions: %d", len(sessions))
		}
	})
}

// TestDeleteWorktree tests permanent deletion
func TestDeleteWorktree(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	seedProject(t, st, "proj")
	seedWorktree(t, st, "feat", "proj", entity.WorktreeFeature)
	seedSession(t, st, "sess-1", "feat")
	if err := st.CreateMessage(&entity.Message{
		ID: "m1", SessionID: "sess-1", Role: entity.RoleUser, Content: "hi",
	}); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	if _, _, err := st.ArchiveWorktree("feat"); err != nil {
		t.Fatalf("ArchiveWorktree failed: %v", err)
	}
	if err := st.DeleteWorktree("feat"); err != nil {
		t.Fatalf("DeleteWorktree failed: %v", err)
	}

	wt, err := st.GetWorktree("feat")
	if err != nil {
		t.Fatalf("GetWorktree failed: %v", err)
	}
	if wt != nil {
		t.Error("worktree survived deletion")
	}
	sess, err := st.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess != nil {
		t.Error("session survived worktree deletion")
	}
	count, err := st.CountMessages("sess-1")
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 messages after deletion, got %d", count)
	}
}

// TestSessions tests session operations
func TestSessions(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	seedProject(t, st, "proj")
	seedWorktree(t, st, "feat", "proj", entity.WorktreeFeature)

	t.Run("CreateAndGet", func(t *testing.T) {
		sess := &entity.Session{
			ID: "sess-1", WorktreeID: "feat", Name: "first",
			Agent: entity.AgentCodex, Model: "gpt-5", ExecutionMode: "plan",
			Thinking: entity.ThinkingHigh,
		}
		if err := st.CreateSession(sess); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}

		got, err := st.GetSession("sess-1")
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected session, got nil")
		}
		if got.Model != "gpt-5" || got.ExecutionMode != "plan" || got.Thinking != entity.ThinkingHigh {
			t.Errorf("settings not round-tripped: %+v", got)
		}
	})

	t.Run("UpdateSetting", func(t *testing.T) {
		if err := st.UpdateSessionSetting("sess-1", "model", "gpt-5-codex"); err != nil {
			t.Fatalf("UpdateSessionSetting failed: %v", err)
		}
		got, _ := st.GetSession("sess-1")
		if got.Model != "gpt-5-codex" {
			t.Errorf("expected updated model, got %q", got.Model)
		}

		if err := st.UpdateSessionSetting("sess-1", "pid", "1"); err == nil {
			t.Error("expected unknown field to be rejected")
		}
	})

	t.Run("AnsweredQuestions", func(t *testing.T) {
		if err := st.AddAnsweredQuestion("sess-1", "q1"); err != nil {
			t.Fatalf("AddAnsweredQuestion failed: %v", err)
		}
		if err := st.AddAnsweredQuestion("sess-1", "q1"); err != nil {
			t.Fatalf("duplicate AddAnsweredQuestion failed: %v", err)
		}
		got, _ := st.GetSession("sess-1")
		if len(got.AnsweredIDs) != 1 || !got.Answered("q1") {
			t.Errorf("answered ids not recorded once: %v", got.AnsweredIDs)
		}
	})

	t.Run("AgentSessionID", func(t *testing.T) {
		if err := st.SetAgentSessionID("sess-1", "codex-abc"); err != nil {
			t.Fatalf("SetAgentSessionID failed: %v", err)
		}
		got, err := st.GetAgentSessionID("sess-1")
		if err != nil {
			t.Fatalf("GetAgentSessionID failed: %v", err)
		}
		if got != "codex-abc" {
			t.Errorf("expected codex-abc, got %q", got)
		}
	})
}

// TestMessages tests message persistence round trips
func TestMessages(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	seedProject(t, st, "proj")
	seedWorktree(t, st, "feat", "proj", entity.WorktreeFeature)
	seedSession(t, st, "sess-1", "feat")

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msgs := []*entity.Message{
		{ID: "m1", SessionID: "sess-1", Role: entity.RoleUser, Content: "hello", CreatedAt: base},
		{
			ID: "m2", SessionID: "sess-1", Role: entity.RoleAssistant,
			Content:   "before after",
			CreatedAt: base.Add(time.Second),
			Blocks: []entity.ContentBlock{
				{Type: entity.BlockText, Text: "before "},
				{Type: entity.BlockToolUse, ToolCallID: "t1"},
				{Type: entity.BlockText, Text: "after"},
			},
			ToolCalls: []entity.ToolCall{{ID: "t1", Name: "read_file", Input: `{"path":"x"}`}},
		},
	}
	for _, m := range msgs {
		if err := st.CreateMessage(m); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	got, err := st.ListMessages("sess-1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("chronological order lost: %s, %s", got[0].ID, got[1].ID)
	}
	assistant := got[1]
	if len(assistant.Blocks) != 3 || assistant.Blocks[1].ToolCallID != "t1" {
		t.Errorf("blocks not round-tripped: %+v", assistant.Blocks)
	}
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Name != "read_file" {
		t.Errorf("tool calls not round-tripped: %+v", assistant.ToolCalls)
	}

	// GetSession loads the conversation.
	sess, err := st.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(sess.Messages) != 2 {
		t.Errorf("expected messages on session, got %d", len(sess.Messages))
	}
}

package engine

import (
	"testing"
	"time"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

func TestUpsertWorktreeIdempotent(t *testing.T) {
	s := NewStore()
	notified := 0
	defer s.Subscribe("wt-1", func() { notified++ })()

	wt := testWorktree("wt-1", "proj-1", entity.WorktreeFeature, 1)
	s.UpsertWorktree(wt)
	s.UpsertWorktree(wt.Clone())

	if notified != 1 {
		t.Errorf("expected 1 notification for identical upserts, got %d", notified)
	}

	// A changed snapshot replaces the whole entity and notifies again.
	changed := wt.Clone()
	changed.Branch = "jean/renamed"
	s.UpsertWorktree(changed)
	if notified != 2 {
		t.Errorf("expected 2 notifications after a real change, got %d", notified)
	}
	if got := s.Worktree("wt-1").Branch; got != "jean/renamed" {
		t.Errorf("expected whole-entity replace, got branch %q", got)
	}
}

func TestRemoveWorktreeIdempotent(t *testing.T) {
	s := NewStore()
	s.UpsertWorktree(testWorktree("wt-1", "proj-1", entity.WorktreeFeature, 1))

	notified := 0
	defer s.Subscribe("wt-1", func() { notified++ })()

	s.RemoveWorktree("wt-1")
	s.RemoveWorktree("wt-1")

	if notified != 1 {
		t.Errorf("expected a single notification for double remove, got %d", notified)
	}
	if s.Worktree("wt-1") != nil {
		t.Error("worktree still present after remove")
	}
}

func TestWorktreeOrderingBaseFirst(t *testing.T) {
	s := NewStore()
	s.UpsertWorktree(testWorktree("feat-b", "proj-1", entity.WorktreeFeature, 2))
	s.UpsertWorktree(testWorktree("base", "proj-1", entity.WorktreeBase, 9))
	s.UpsertWorktree(testWorktree("feat-a", "proj-1", entity.WorktreeFeature, 1))

	got := s.Worktrees("proj-1")
	want := []string{"base", "feat-a", "feat-b"}
	if len(got) != len(want) {
		t.Fatalf("expected %d worktrees, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestUpsertSessionDoesNotNotifyProject(t *testing.T) {
	s := NewStore()
	s.UpsertWorktree(testWorktree("wt-1", "proj-1", entity.WorktreeFeature, 1))

	projectNotified := 0
	worktreeNotified := 0
	defer s.Subscribe("proj-1", func() { projectNotified++ })()
	defer s.Subscribe("wt-1", func() { worktreeNotified++ })()

	s.UpsertSession(testSession("sess-1", "wt-1", 1))

	if worktreeNotified != 1 {
		t.Errorf("expected worktree subscriber to fire once, got %d", worktreeNotified)
	}
	if projectNotified != 0 {
		t.Errorf("session change must not invalidate the project key, got %d notifications", projectNotified)
	}
}

func TestFirstSessionBecomesActive(t *testing.T) {
	s := NewStore()
	s.UpsertSession(testSession("sess-1", "wt-1", 1))
	s.UpsertSession(testSession("sess-2", "wt-1", 2))

	if got := s.ActiveSession("wt-1"); got != "sess-1" {
		t.Errorf("expected first session active, got %q", got)
	}

	s.SetActiveSession("wt-1", "sess-2")
	if got := s.ActiveSession("wt-1"); got != "sess-2" {
		t.Errorf("expected sess-2 active after explicit set, got %q", got)
	}

	// Removing the active session falls back to the first remaining.
	s.RemoveSession("sess-2")
	if got := s.ActiveSession("wt-1"); got != "sess-1" {
		t.Errorf("expected fallback to sess-1, got %q", got)
	}
}

func TestSetActiveSessionRejectsInvalid(t *testing.T) {
	s := NewStore()
	s.UpsertSession(testSession("sess-1", "wt-1", 1))

	s.SetActiveSession("wt-1", "unknown")
	if got := s.ActiveSession("wt-1"); got != "sess-1" {
		t.Errorf("unknown id must be ignored, active is %q", got)
	}

	archived := testSession("sess-2", "wt-1", 2)
	at := time.Now()
	archived.ArchivedAt = &at
	s.UpsertSession(archived)
	s.SetActiveSession("wt-1", "sess-2")
	if got := s.ActiveSession("wt-1"); got != "sess-1" {
		t.Errorf("archived session must never become active, active is %q", got)
	}
}

func archiveFixture(s *Store) *control.ArchiveWorktreeResult {
	wt := testWorktree("wt-1", "proj-1", entity.WorktreeFeature, 1)
	s.UpsertWorktree(wt)
	s.UpsertSession(testSession("sess-1", "wt-1", 1))
	s.UpsertSession(testSession("sess-2", "wt-1", 2))

	archivedAt := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	archivedWt := wt.Clone()
	archivedWt.ArchivedAt = &archivedAt
	result := &control.ArchiveWorktreeResult{
		Archived: &entity.ArchivedWorktree{
			Worktree:    archivedWt,
			ArchivedAt:  archivedAt,
			ProjectName: "proj-1",
			SessionIDs:  []string{"sess-1", "sess-2"},
		},
	}
	for _, id := range []string{"sess-1", "sess-2"} {
		sess := s.Session(id)
		sess.ArchivedAt = &archivedAt
		result.Sessions = append(result.Sessions, &entity.ArchivedSession{
			Session:      sess,
			ArchivedAt:   archivedAt,
			WorktreeID:   "wt-1",
			WorktreeName: wt.Name,
			WorktreePath: wt.Path,
			ProjectID:    "proj-1",
			ProjectName:  "proj-1",
		})
	}
	return result
}

func TestApplyArchiveCascades(t *testing.T) {
	s := NewStore()
	result := archiveFixture(s)

	// Subscribers run only after the whole cascade is applied: at
	// notification time the worktree must be gone AND its sessions
	// archived, never one without the other.
	sawPartial := false
	defer s.Subscribe("wt-1", func() {
		if s.Worktree("wt-1") == nil && len(s.Sessions("wt-1")) > 0 {
			sawPartial = true
		}
	})()

	s.ApplyArchive(result)

	if sawPartial {
		t.Error("subscriber observed worktree archived with live sessions")
	}
	if s.Worktree("wt-1") != nil {
		t.Error("worktree still in active collection")
	}
	if got := len(s.Sessions("wt-1")); got != 0 {
		t.Errorf("expected 0 live sessions, got %d", got)
	}
	if s.ArchivedWorktree("wt-1") == nil {
		t.Fatal("archived worktree entry missing")
	}

	archived := s.ArchivedSessions()
	if len(archived) != 2 {
		t.Fatalf("expected 2 archived sessions, got %d", len(archived))
	}
	for _, as := range archived {
		if !as.ArchivedAt.Equal(result.Archived.ArchivedAt) {
			t.Errorf("session %s archived_at %v does not match worktree archive time %v",
				as.Session.ID, as.ArchivedAt, result.Archived.ArchivedAt)
		}
	}
	if got := s.ActiveSession("wt-1"); got != "" {
		t.Errorf("active session must be cleared, got %q", got)
	}
}

func TestArchiveUnarchiveRoundTrip(t *testing.T) {
	s := NewStore()
	result := archiveFixture(s)
	before := s.Sessions("wt-1")

	s.ApplyArchive(result)

	restored := make([]*entity.Session, 0, len(result.Sessions))
	for _, as := range result.Sessions {
		sess := as.Session.Clone()
		sess.ArchivedAt = nil
		restored = append(restored, sess)
	}
	wt := result.Archived.Worktree.Clone()
	wt.ArchivedAt = nil
	s.ApplyUnarchive(wt, restored)

	if s.ArchivedWorktree("wt-1") != nil {
		t.Error("archived entry survived restore")
	}
	if got := len(s.ArchivedSessions()); got != 0 {
		t.Errorf("expected no archived sessions after restore, got %d", got)
	}

	after := s.Sessions("wt-1")
	if len(after) != len(before) {
		t.Fatalf("expected %d sessions after round trip, got %d", len(before), len(after))
	}
	for i := range before {
		if after[i].ID != before[i].ID {
			t.Errorf("session order changed: position %d was %s, now %s", i, before[i].ID, after[i].ID)
		}
	}
	if got := s.ActiveSession("wt-1"); got != "sess-1" {
		t.Errorf("expected first session active after restore, got %q", got)
	}
}

func TestPurgeArchivedWorktreeOrphans(t *testing.T) {
	s := NewStore()
	result := archiveFixture(s)
	s.ApplyArchive(result)

	// An archived session from a different worktree must survive the purge.
	other := testSession("sess-9", "wt-9", 1)
	s.UpsertArchivedSession(&entity.ArchivedSession{
		Session: other, ArchivedAt: time.Now(), WorktreeID: "wt-9",
	})

	s.PurgeArchivedWorktree("wt-1")

	if s.ArchivedWorktree("wt-1") != nil {
		t.Error("archived worktree survived purge")
	}
	archived := s.ArchivedSessions()
	if len(archived) != 1 || archived[0].Session.ID != "sess-9" {
		t.Errorf("expected only the unrelated archived session to survive, got %d entries", len(archived))
	}
}

func TestApplySessionRestore(t *testing.T) {
	s := NewStore()
	sess := testSession("sess-1", "wt-base", 1)
	s.UpsertArchivedSession(&entity.ArchivedSession{Session: sess, ArchivedAt: time.Now(), WorktreeID: "wt-old"})

	base := testWorktree("wt-base", "proj-1", entity.WorktreeBase, 0)
	s.ApplySessionRestore(sess, base)

	if got := len(s.ArchivedSessions()); got != 0 {
		t.Errorf("expected archived entry removed, got %d", got)
	}
	if s.Session("sess-1") == nil {
		t.Fatal("restored session missing from active collection")
	}
	if got := s.ActiveSession("wt-base"); got != "sess-1" {
		t.Errorf("restored session must become active, got %q", got)
	}
}

func TestSessionReadsAreDeepCopies(t *testing.T) {
	s := NewStore()
	sess := testSession("sess-1", "wt-1", 1)
	sess.Messages = []*entity.Message{{ID: "m1", SessionID: "sess-1", Role: entity.RoleUser, Content: "hi"}}
	s.UpsertSession(sess)

	read := s.Session("sess-1")
	read.Messages[0].Content = "mutated"

	if got := s.Session("sess-1").Messages[0].Content; got != "hi" {
		t.Errorf("reader mutation leaked into the store: %q", got)
	}
}

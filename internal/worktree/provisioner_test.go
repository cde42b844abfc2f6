package worktree

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/store"
)

func setupProvisioner(t *testing.T) (*Provisioner, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewProvisioner(st, filepath.Join(dir, "worktrees")), st, dir
}

func testProject(dir string) *entity.Project {
	return &entity.Project{
		ID:            uuid.NewString(),
		Name:          "demo",
		Path:          filepath.Join(dir, "demo"),
		DefaultBranch: "main",
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Fix Login Bug":   "fix-login-bug",
		"  spaces  ":      "spaces",
		"UPPER_case/name": "upper-case-name",
		"":                "",
	}
	for in, want := range cases {
		if got := slugify(in, 40); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
	if got := slugify("a-very-long-name-that-exceeds-the-limit", 10); got != "a-very-lon" {
		t.Errorf("truncation: got %q", got)
	}
}

func TestTargetPathUsesWorktreeDir(t *testing.T) {
	p, _, dir := setupProvisioner(t)
	project := testProject(dir)

	got := p.targetPath(project, "feature-x")
	want := filepath.Join(dir, "worktrees", "demo-feature-x")
	if got != want {
		t.Errorf("targetPath = %q, want %q", got, want)
	}

	p.worktreeDir = ""
	got = p.targetPath(project, "feature-x")
	want = filepath.Join(dir, "demo-feature-x")
	if got != want {
		t.Errorf("sibling targetPath = %q, want %q", got, want)
	}
}

func TestDetectConflictOnExistingDirectory(t *testing.T) {
	p, st, dir := setupProvisioner(t)
	project := testProject(dir)

	path := p.targetPath(project, "taken")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}

	conflict := p.detectConflict(path)
	if conflict == nil {
		t.Fatal("expected conflict for existing directory")
	}
	if conflict.Path != path {
		t.Errorf("conflict path = %q, want %q", conflict.Path, path)
	}
	if conflict.ArchivedWorktreeID != "" {
		t.Errorf("no archived worktree should match, got %q", conflict.ArchivedWorktreeID)
	}

	// An archived worktree at the same path is offered for restore.
	if err := st.CreateProject(project); err != nil {
		t.Fatal(err)
	}
	wt := &entity.Worktree{
		ID:        "wt-old",
		ProjectID: project.ID,
		Name:      "taken",
		Path:      path,
		Kind:      entity.WorktreeFeature,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.CreateWorktree(wt); err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.ArchiveWorktree(wt.ID); err != nil {
		t.Fatal(err)
	}

	conflict = p.detectConflict(path)
	if conflict == nil || conflict.ArchivedWorktreeID != "wt-old" {
		t.Errorf("expected archived match wt-old, got %+v", conflict)
	}
}

func TestDisambiguateSkipsTakenPaths(t *testing.T) {
	p, _, dir := setupProvisioner(t)
	project := testProject(dir)

	for _, slug := range []string{"feat", "feat-2", "feat-3"} {
		if err := os.MkdirAll(p.targetPath(project, slug), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	if got := p.disambiguate(project, "feat"); got != "feat-4" {
		t.Errorf("disambiguate = %q, want feat-4", got)
	}
}

func TestImportRegistersExistingDirectory(t *testing.T) {
	p, st, dir := setupProvisioner(t)
	project := testProject(dir)
	if err := st.CreateProject(project); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "adopted")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}

	wt, err := p.Import(project, "", path)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if wt.Name != "adopted" {
		t.Errorf("name should default to directory basename, got %q", wt.Name)
	}
	if wt.Kind != entity.WorktreeFeature {
		t.Errorf("imported worktree should be a feature worktree, got %s", wt.Kind)
	}

	if _, err := p.Import(project, "", path); err == nil {
		t.Error("importing an already-registered path should fail")
	}

	if _, err := p.Import(project, "", filepath.Join(dir, "missing")); err == nil {
		t.Error("importing a missing directory should fail")
	}
}

func TestEnsureBaseIsIdempotent(t *testing.T) {
	p, st, dir := setupProvisioner(t)
	project := testProject(dir)
	if err := st.CreateProject(project); err != nil {
		t.Fatal(err)
	}

	first, err := p.EnsureBase(project)
	if err != nil {
		t.Fatal(err)
	}
	if first.Kind != entity.WorktreeBase || first.Path != project.Path {
		t.Errorf("base worktree should wrap the project directory, got %+v", first)
	}

	second, err := p.EnsureBase(project)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("EnsureBase created a second base worktree: %s vs %s", first.ID, second.ID)
	}
}

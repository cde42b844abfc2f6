// Package worktree handles git worktree provisioning and publishing.
package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/executil"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/logging"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/store"
)

// Provisioner creates and removes git worktrees for a project.
type Provisioner struct {
	store *store.Store

	// worktreeDir is the dedicated directory feature worktrees are
	// created under. When empty they are placed as siblings of the
	// project directory.
	worktreeDir string
}

// NewProvisioner creates a new worktree provisioner.
func NewProvisioner(st *store.Store, worktreeDir string) *Provisioner {
	return &Provisioner{store: st, worktreeDir: worktreeDir}
}

// Create provisions a feature worktree on a fresh branch and registers
// it. When the target path collides with an existing directory or a
// registered worktree the caller gets a ConflictError carrying a free
// disambiguated name and the archived worktree that previously occupied
// the path, if any. The engine never resolves the conflict on its own.
func (p *Provisioner) Create(project *entity.Project, name string) (*entity.Worktree, error) {
	slug := slugify(name, 40)
	if slug == "" {
		slug = "wt-" + shortID(uuid.NewString())
	}
	path := p.targetPath(project, slug)

	if conflict := p.detectConflict(path); conflict != nil {
		conflict.SuggestedName = p.disambiguate(project, slug)
		return nil, conflict
	}

	branch := "jean/" + slug
	base := project.DefaultBranch
	if base == "" {
		base = DetectDefaultBranch(project.Path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	cmd, err := executil.Command("git", "worktree", "add", "-b", branch, path, base)
	if err != nil {
		return nil, err
	}
	cmd.Dir = project.Path
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git worktree add failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	wt := &entity.Worktree{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Name:      slug,
		Path:      path,
		Branch:    branch,
		Kind:      entity.WorktreeFeature,
		Status:    entity.WorktreeReady,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.CreateWorktree(wt); err != nil {
		return nil, fmt.Errorf("failed to register worktree: %w", err)
	}

	logging.Info("worktree created", "id", wt.ID, "path", path, "branch", branch)
	return wt, nil
}

// Import registers an existing directory as a worktree without touching
// its contents. Used to resolve a path conflict by adoption.
func (p *Provisioner) Import(project *entity.Project, name, path string) (*entity.Worktree, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot import %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cannot import %s: not a directory", path)
	}
	if existing, err := p.store.GetActiveWorktreeByPath(path); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("path already registered to worktree %s", existing.ID)
	}

	if name == "" {
		name = filepath.Base(path)
	}

	wt := &entity.Worktree{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Name:      name,
		Path:      path,
		Branch:    getCurrentBranch(path),
		Kind:      entity.WorktreeFeature,
		Status:    entity.WorktreeReady,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.CreateWorktree(wt); err != nil {
		return nil, fmt.Errorf("failed to register worktree: %w", err)
	}

	logging.Info("worktree imported", "id", wt.ID, "path", path)
	return wt, nil
}

// EnsureBase returns the project's base worktree, registering the
// project directory itself on first use. At most one non-archived base
// worktree exists per project.
func (p *Provisioner) EnsureBase(project *entity.Project) (*entity.Worktree, error) {
	base, err := p.store.GetBaseWorktree(project.ID)
	if err != nil {
		return nil, err
	}
	if base != nil {
		return base, nil
	}

	branch := project.DefaultBranch
	if branch == "" {
		branch = DetectDefaultBranch(project.Path)
	}
	wt := &entity.Worktree{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Name:      project.Name,
		Path:      project.Path,
		Branch:    branch,
		Kind:      entity.WorktreeBase,
		Status:    entity.WorktreeReady,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.CreateWorktree(wt); err != nil {
		return nil, err
	}
	return wt, nil
}

// RemoveFiles detaches a worktree's directory and branch from git. The
// store record is handled by the caller; file removal failures are best
// effort because the directory may already be gone.
func (p *Provisioner) RemoveFiles(project *entity.Project, wt *entity.Worktree) error {
	if wt.Kind == entity.WorktreeBase {
		return fmt.Errorf("cannot remove base worktree files")
	}

	cmd, err := executil.Command("git", "worktree", "remove", "--force", wt.Path)
	if err != nil {
		return err
	}
	cmd.Dir = project.Path
	if output, err := cmd.CombinedOutput(); err != nil {
		logging.Warn("git worktree remove failed, removing directory directly",
			"path", wt.Path, "output", strings.TrimSpace(string(output)))
		if err := os.RemoveAll(wt.Path); err != nil {
			return fmt.Errorf("failed to remove worktree directory: %w", err)
		}
	}

	if wt.Branch != "" && !strings.EqualFold(wt.Branch, project.DefaultBranch) {
		if cmd, err := executil.Command("git", "branch", "-D", wt.Branch); err == nil {
			cmd.Dir = project.Path
			cmd.Run() // branch may be checked out elsewhere or already gone
		}
	}
	return nil
}

// TargetPath derives the path a worktree with the given name would
// occupy. Used to resolve a reported conflict against the same target.
func (p *Provisioner) TargetPath(project *entity.Project, name string) string {
	slug := slugify(name, 40)
	if slug == "" {
		slug = "wt"
	}
	return p.targetPath(project, slug)
}

// Disambiguate returns a free variant of the given name.
func (p *Provisioner) Disambiguate(project *entity.Project, name string) string {
	slug := slugify(name, 40)
	if slug == "" {
		slug = "wt"
	}
	return p.disambiguate(project, slug)
}

// detectConflict reports a collision for the target path, or nil when
// the path is free.
func (p *Provisioner) detectConflict(path string) *control.ConflictError {
	collides := false
	if _, err := os.Stat(path); err == nil {
		collides = true
	}
	if !collides {
		if wt, err := p.store.GetActiveWorktreeByPath(path); err == nil && wt != nil {
			collides = true
		}
	}
	if !collides {
		return nil
	}

	conflict := &control.ConflictError{Path: path}
	if archived, err := p.store.GetArchivedWorktreeByPath(path); err == nil && archived != nil {
		conflict.ArchivedWorktreeID = archived.ID
	}
	return conflict
}

// disambiguate appends a numeric suffix until the derived path is free
// on disk and in the store.
func (p *Provisioner) disambiguate(project *entity.Project, slug string) string {
	for i := 2; i < 100; i++ {
		candidate := fmt.Sprintf("%s-%d", slug, i)
		if p.detectConflict(p.targetPath(project, candidate)) == nil {
			return candidate
		}
	}
	return slug + "-" + shortID(uuid.NewString())
}

// targetPath derives the worktree directory, prefixed with the project
// name so worktrees from different projects can share one parent.
func (p *Provisioner) targetPath(project *entity.Project, slug string) string {
	parent := p.worktreeDir
	if parent == "" {
		parent = filepath.Dir(project.Path)
	}
	return filepath.Join(parent, project.Name+"-"+slug)
}

// PruneStale runs git worktree prune to clean up stale administrative
// entries left by externally deleted directories.
func (p *Provisioner) PruneStale(project *entity.Project) error {
	cmd, err := executil.Command("git", "worktree", "prune")
	if err != nil {
		return err
	}
	cmd.Dir = project.Path
	return cmd.Run()
}

// DetectDefaultBranch resolves a repository's default branch from the
// origin HEAD, falling back to main or master.
func DetectDefaultBranch(repoPath string) string {
	if cmd, err := executil.Command("git", "symbolic-ref", "refs/remotes/origin/HEAD", "--short"); err == nil {
		cmd.Dir = repoPath
		if output, err := cmd.Output(); err == nil {
			branch := strings.TrimSpace(string(output))
			return strings.TrimPrefix(branch, "origin/")
		}
	}

	for _, branch := range []string{"main", "master"} {
		cmd, err := executil.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
		if err != nil {
			continue
		}
		cmd.Dir = repoPath
		if cmd.Run() == nil {
			return branch
		}
	}
	return "main"
}

func getCurrentBranch(path string) string {
	cmd, err := executil.Command("git", "branch", "--show-current")
	if err != nil {
		return ""
	}
	cmd.Dir = path
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(text string, maxLen int) string {
	text = strings.ToLower(text)
	text = slugPattern.ReplaceAllString(text, "-")
	text = strings.Trim(text, "-")
	if len(text) > maxLen {
		text = strings.TrimRight(text[:maxLen], "-")
	}
	return text
}

package worktree

import (
	"fmt"
	"strings"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/executil"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/github"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/logging"
)

// Publisher pushes a worktree branch and opens a pull request.
type Publisher struct {
	app *github.AppClient // nil when no GitHub App is configured
}

// NewPublisher creates a worktree publisher. The app client may be nil,
// in which case PRs are created through the gh CLI.
func NewPublisher(app *github.AppClient) *Publisher {
	return &Publisher{app: app}
}

// PublishResult contains the result of publishing.
type PublishResult struct {
	PRURL  string `json:"pr_url"`
	Branch string `json:"branch"`
}

// PublishPR pushes the worktree's branch and creates a PR against the
// project's default branch. The working tree must be clean.
func (p *Publisher) PublishPR(project *entity.Project, wt *entity.Worktree, title, body string) (*PublishResult, error) {
	if wt.Kind == entity.WorktreeBase {
		return nil, fmt.Errorf("cannot publish base worktree")
	}

	clean, err := isCleanWorkingTree(wt.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to check git status: %w", err)
	}
	if !clean {
		return nil, fmt.Errorf("working tree has uncommitted changes")
	}

	branch := wt.Branch
	if branch == "" {
		branch = getCurrentBranch(wt.Path)
		if branch == "" {
			return nil, fmt.Errorf("failed to resolve branch for %s", wt.Path)
		}
	}

	logging.Info("pushing branch to remote", "branch", branch, "worktree", wt.Path)
	cmd, err := executil.Command("git", "push", "-u", "origin", "HEAD")
	if err != nil {
		return nil, err
	}
	cmd.Dir = wt.Path
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git push failed: %w\n%s", err, string(output))
	}

	if title == "" {
		title = wt.Name
	}
	if body == "" {
		body = fmt.Sprintf("Changes from worktree `%s` on branch `%s`.", wt.Name, branch)
	}

	var prURL string
	if p.app != nil {
		prURL, err = p.createPRWithApp(project, wt, branch, title, body)
		if err != nil {
			logging.Warn("GitHub App PR creation failed, falling back to gh CLI", "error", err)
			prURL, err = createPRWithCLI(wt.Path, title, body)
		}
	} else {
		prURL, err = createPRWithCLI(wt.Path, title, body)
	}
	if err != nil {
		return nil, fmt.Errorf("PR creation failed: %w", err)
	}

	logging.Info("PR created", "url", prURL, "branch", branch)
	return &PublishResult{PRURL: prURL, Branch: branch}, nil
}

func (p *Publisher) createPRWithApp(project *entity.Project, wt *entity.Worktree, branch, title, body string) (string, error) {
	remoteURL, err := getRemoteURL(wt.Path)
	if err != nil {
		return "", fmt.Errorf("failed to get remote URL: %w", err)
	}

	owner, repo, err := github.ParseRepoFromRemote(remoteURL)
	if err != nil {
		return "", err
	}

	base := project.DefaultBranch
	if base == "" {
		base = DetectDefaultBranch(project.Path)
	}

	result, err := p.app.CreatePR(github.PROptions{
		Owner: owner,
		Repo:  repo,
		Title: title,
		Body:  body,
		Head:  branch,
		Base:  base,
	})
	if err != nil {
		return "", err
	}
	return result.HTMLURL, nil
}

func createPRWithCLI(worktreePath, title, body string) (string, error) {
	cmd, err := executil.Command("gh", "pr", "create", "--title", title, "--body", body)
	if err != nil {
		return "", err
	}
	cmd.Dir = worktreePath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, string(output))
	}
	// gh pr create prints the URL
	return strings.TrimSpace(string(output)), nil
}

func isCleanWorkingTree(path string) (bool, error) {
	cmd, err := executil.Command("git", "status", "--porcelain")
	if err != nil {
		return false, err
	}
	cmd.Dir = path
	output, err := cmd.Output()
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(output))) == 0, nil
}

func getRemoteURL(path string) (string, error) {
	cmd, err := executil.Command("git", "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	cmd.Dir = path
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

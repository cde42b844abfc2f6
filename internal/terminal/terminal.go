// Package terminal opens worktree directories in a terminal emulator.
package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/executil"
)

// Terminal is the interface for terminal emulator operations.
type Terminal interface {
	// OpenTab opens a new tab at workDir running command (or a shell
	// when command is empty).
	OpenTab(workDir string, command ...string) error

	// OpenShell opens the user's shell at workDir.
	OpenShell(workDir string) error

	// AttachToSession opens the agent CLI resumed on an existing
	// conversation, for hands-on takeover of a session.
	AttachToSession(workDir string, agent entity.AgentKind, agentSessionID string) error
}

// Detect picks the available terminal emulator. Ghostty is preferred;
// the Ghostty command set degrades to plain window spawning elsewhere.
func Detect() Terminal {
	if _, err := exec.LookPath("ghostty"); err == nil {
		return NewGhostty()
	}
	return NewGhostty()
}

// Ghostty integrates with the Ghostty terminal emulator.
type Ghostty struct{}

// NewGhostty creates a new Ghostty integration.
func NewGhostty() *Ghostty {
	return &Ghostty{}
}

// OpenTab opens a new Ghostty tab with the given command. Uses
// AppleScript on macOS; falls back to a new window elsewhere.
func (g *Ghostty) OpenTab(workDir string, command ...string) error {
	if runtime.GOOS == "darwin" {
		return g.openTabMacOS(workDir, command...)
	}
	return g.openWindow(workDir, command...)
}

// OpenShell opens the user's shell at workDir.
func (g *Ghostty) OpenShell(workDir string) error {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}
	return g.OpenTab(workDir, shell)
}

// AttachToSession resumes the agent's conversation in a new tab.
func (g *Ghostty) AttachToSession(workDir string, agent entity.AgentKind, agentSessionID string) error {
	if agentSessionID == "" {
		return fmt.Errorf("session has no agent conversation to attach to")
	}
	switch agent {
	case entity.AgentCodex:
		return g.OpenTab(workDir, "codex", "resume", agentSessionID)
	case entity.AgentClaude:
		return g.OpenTab(workDir, "claude", "--resume", agentSessionID)
	default:
		return fmt.Errorf("cannot attach to %s sessions", agent)
	}
}

func (g *Ghostty) openTabMacOS(workDir string, command ...string) error {
	cmdStr := g.buildShellCommand(workDir, command...)

	script := fmt.Sprintf(`
tell application "Ghostty"
    activate
    delay 0.1
    tell application "System Events"
        keystroke "t" using command down
        delay 0.2
        keystroke "%s"
        keystroke return
    end tell
end tell
`, escapeAppleScript(cmdStr))

	cmd, err := executil.Command("osascript", "-e", script)
	if err != nil {
		return err
	}
	return cmd.Run()
}

func (g *Ghostty) openWindow(workDir string, command ...string) error {
	args := []string{}
	if workDir != "" {
		args = append(args, "--working-directory="+workDir)
	}
	if len(command) > 0 {
		args = append(args, "-e")
		args = append(args, command...)
	}
	cmd, err := executil.Command("ghostty", args...)
	if err != nil {
		return err
	}
	return cmd.Start()
}

func (g *Ghostty) buildShellCommand(workDir string, command ...string) string {
	var parts []string
	if workDir != "" {
		parts = append(parts, fmt.Sprintf("cd %q", workDir))
	}
	if len(command) > 0 {
		parts = append(parts, strings.Join(command, " "))
	}
	return strings.Join(parts, " && ")
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return s
}

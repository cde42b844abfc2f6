package claudecode

import (
	"strings"
)

// SpawnOptions configures how to spawn a Claude Code process.
type SpawnOptions struct {
	// SessionID is the session identifier for a fresh conversation
	// (used for --session-id). Ignored when Resume is set.
	SessionID string

	// Resume is the id of an existing conversation to continue
	// (used for --resume).
	Resume string

	// WorkDir is the working directory for the process.
	WorkDir string

	// Prompt is the initial prompt, sent over stdin.
	Prompt string

	// Model specifies which model to use (sonnet, opus, haiku).
	Model string

	// PermissionMode is the permission level (plan, default,
	// bypassPermissions).
	PermissionMode string

	// AllowedTools restricts which tools the agent can use.
	AllowedTools []string

	// SystemPrompt is appended to Claude's system prompt.
	SystemPrompt string
}

// CommandString returns the full command that would be executed (for logging).
func (o *SpawnOptions) CommandString() string {
	args := o.Args()
	quoted := make([]string, len(args))
	for i, arg := range args {
		if strings.Contains(arg, " ") || strings.Contains(arg, "\n") {
			if len(arg) > 100 {
				arg = arg[:97] + "..."
			}
			quoted[i] = `"` + arg + `"`
		} else {
			quoted[i] = arg
		}
	}
	return "claude " + strings.Join(quoted, " ")
}

// Args builds the command-line arguments for Claude Code.
func (o *SpawnOptions) Args() []string {
	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
	}

	if o.Resume != "" {
		args = append(args, "--resume", o.Resume)
	} else if o.SessionID != "" {
		args = append(args, "--session-id", o.SessionID)
	}

	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}

	if o.PermissionMode != "" {
		args = append(args, "--permission-mode", o.PermissionMode)
	}

	if len(o.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(o.AllowedTools, ","))
	}

	if o.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", o.SystemPrompt)
	}

	// Prompt is sent via stdin when using stream-json input format,
	// not as a CLI argument.

	return args
}

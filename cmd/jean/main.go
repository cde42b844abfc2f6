// Command jean is the jean CLI and TUI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/config"
)

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "jean",
	Short: "Isolated coding-agent work sessions on git worktrees",
	Long: `Jean manages coding-agent sessions, each pinned to its own git worktree.

Projects register repositories, worktrees carve out isolated branches,
and sessions hold streaming agent conversations. Run with no arguments
for the dashboard TUI.`,
	RunE: runDashboard,
}

var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Short:  "Daemon management commands",
	Hidden: true,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemonStatus()
	},
}

// Project commands

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage registered projects",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a repository as a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		return runProjectAdd(args[0], name)
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProjectList()
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove <project-id>",
	Short: "Unregister a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProjectRemove(args[0])
	},
}

// Worktree commands

var wtCmd = &cobra.Command{
	Use:   "wt",
	Short: "Manage worktrees",
}

var wtCreateCmd = &cobra.Command{
	Use:   "create <project-id> [name]",
	Short: "Create a feature worktree",
	Long: `Create a feature worktree on a new jean/<name> branch.

When the target directory already exists the command reports the
conflict and the available resolutions. Pick one with --resolve:
  restore  restore the archived worktree that owned the path
  import   adopt the directory as-is
  rename   create under a disambiguated name`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		resolve, _ := cmd.Flags().GetString("resolve")
		return runWorktreeCreate(args[0], name, resolve)
	},
}

var wtListCmd = &cobra.Command{
	Use:   "list [project-id]",
	Short: "List active worktrees",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := ""
		if len(args) > 0 {
			projectID = args[0]
		}
		return runWorktreeList(projectID)
	},
}

var wtArchiveCmd = &cobra.Command{
	Use:   "archive <worktree-id>",
	Short: "Archive a worktree and its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorktreeArchive(args[0])
	},
}

var wtRestoreCmd = &cobra.Command{
	Use:   "restore <worktree-id>",
	Short: "Restore an archived worktree and its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorktreeRestore(args[0])
	},
}

var wtDeleteCmd = &cobra.Command{
	Use:   "delete <worktree-id>",
	Short: "Permanently delete an archived worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorktreeDelete(args[0])
	},
}

var wtArchivedCmd = &cobra.Command{
	Use:   "archived",
	Short: "List archived worktrees",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorktreeArchived()
	},
}

var wtOpenCmd = &cobra.Command{
	Use:   "open <worktree-id>",
	Short: "Open the worktree directory in a terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorktreeOpen(args[0])
	},
}

var wtPublishCmd = &cobra.Command{
	Use:   "publish <worktree-id>",
	Short: "Push the worktree branch and open a pull request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		body, _ := cmd.Flags().GetString("body")
		draft, _ := cmd.Flags().GetBool("draft")
		return runWorktreePublish(args[0], title, body, draft)
	},
}

// Session commands

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage agent sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new <worktree-id> [name]",
	Short: "Create a session on a worktree",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		return runSessionNew(args[0], name)
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list <worktree-id>",
	Short: "List a worktree's sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionList(args[0])
	},
}

var sessionSetCmd = &cobra.Command{
	Use:   "set <session-id> <field> <value>",
	Short: "Change a session execution setting",
	Long: `Change one of a session's execution settings.

Fields: model, execution_mode (plan|build|yolo), thinking.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionSet(args[0], args[1], args[2])
	},
}

var sessionRestoreCmd = &cobra.Command{
	Use:   "restore <session-id> <project-id>",
	Short: "Restore an archived session onto the project's base worktree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionRestore(args[0], args[1])
	},
}

var sessionAttachCmd = &cobra.Command{
	Use:   "attach <session-id>",
	Short: "Resume the session's agent CLI in a terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionAttach(args[0])
	},
}

var sessionArchivedCmd = &cobra.Command{
	Use:   "archived",
	Short: "List archived sessions across all projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionArchived()
	},
}

// Chat commands

var chatCmd = &cobra.Command{
	Use:   "chat <worktree-id> <session-id> <text>",
	Short: "Send a chat message and stream the reply",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		model, _ := cmd.Flags().GetString("model")
		mode, _ := cmd.Flags().GetString("mode")
		return runChat(args[0], args[1], joinArgs(args[2:]), agent, model, mode)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a session's in-flight run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCancel(args[0])
	},
}

func init() {
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)

	projectAddCmd.Flags().StringP("name", "n", "", "Project name (defaults to directory name)")
	projectCmd.AddCommand(projectAddCmd, projectListCmd, projectRemoveCmd)
	rootCmd.AddCommand(projectCmd)

	wtCreateCmd.Flags().String("resolve", "", "Conflict resolution: restore, import, or rename")
	wtPublishCmd.Flags().StringP("title", "t", "", "Pull request title")
	wtPublishCmd.Flags().StringP("body", "b", "", "Pull request body")
	wtPublishCmd.Flags().Bool("draft", false, "Open as a draft pull request")
	wtCmd.AddCommand(wtCreateCmd, wtListCmd, wtArchiveCmd, wtRestoreCmd, wtDeleteCmd, wtArchivedCmd, wtOpenCmd, wtPublishCmd)
	rootCmd.AddCommand(wtCmd)

	sessionCmd.AddCommand(sessionNewCmd, sessionListCmd, sessionSetCmd, sessionRestoreCmd, sessionAttachCmd, sessionArchivedCmd)
	rootCmd.AddCommand(sessionCmd)

	chatCmd.Flags().String("agent", "", "Agent backend: codex, claude, or mock")
	chatCmd.Flags().String("model", "", "Model override for this turn")
	chatCmd.Flags().String("mode", "", "Execution mode override: plan, build, or yolo")
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(cancelCmd)
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/terminal"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/tui/dashboard"
)

func connect() (*control.Client, error) {
	client, err := control.NewClient(cfg.Daemon.Socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w\n\nIs jeand running? Start it with: jeand", err)
	}
	return client, nil
}

func runDashboard(cmd *cobra.Command, args []string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	model := dashboard.New(client, cfg)
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

func runDaemonStatus() error {
	client, err := control.NewClient(cfg.Daemon.Socket)
	if err != nil {
		fmt.Println("Daemon status: NOT RUNNING")
		fmt.Printf("Socket: %s\n", cfg.Daemon.Socket)
		return nil
	}
	defer client.Close()

	var status struct {
		Uptime     string `json:"uptime"`
		Projects   int    `json:"projects"`
		Worktrees  int    `json:"worktrees"`
		ActiveRuns int    `json:"active_runs"`
	}
	if err := client.Call("status", nil, &status); err != nil {
		return err
	}

	fmt.Println("Daemon status: RUNNING")
	fmt.Printf("Socket: %s\n", cfg.Daemon.Socket)
	fmt.Printf("Uptime: %s\n", status.Uptime)
	fmt.Printf("Projects: %d\n", status.Projects)
	fmt.Printf("Worktrees: %d\n", status.Worktrees)
	fmt.Printf("Active runs: %d\n", status.ActiveRuns)
	return nil
}

// Project commands

func runProjectAdd(path, name string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	abs, err := absPath(path)
	if err != nil {
		return err
	}
	project, err := client.AddProject(abs, name)
	if err != nil {
		return fmt.Errorf("failed to add project: %w", err)
	}

	fmt.Printf("Added project %s (%s)\n", project.Name, project.ID)
	fmt.Printf("Default branch: %s\n", project.DefaultBranch)
	return nil
}

func runProjectList() error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	projects, err := client.ListProjects()
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}
	if len(projects) == 0 {
		fmt.Println("No projects registered. Add one with: jean project add <path>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tBRANCH\tPATH")
	fmt.Fprintln(w, "--\t----\t------\t----")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(p.ID), p.Name, p.DefaultBranch, shortenPath(p.Path))
	}
	return w.Flush()
}

func runProjectRemove(id string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Call("delete_project", map[string]string{"id": id}, nil); err != nil {
		return fmt.Errorf("failed to remove project: %w", err)
	}
	fmt.Println("Project removed.")
	return nil
}

// Worktree commands

func runWorktreeCreate(projectID, name, resolve string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	wt, err := client.CreateWorktree(control.CreateWorktreeRequest{
		ProjectID: projectID,
		Name:      name,
		Resolve:   resolve,
	})
	if err != nil {
		var conflict *control.ConflictError
		if errors.As(err, &conflict) {
			fmt.Printf("Path already exists: %s\n\n", conflict.Path)
			if conflict.ArchivedWorktreeID != "" {
				fmt.Println("  --resolve restore  restore the archived worktree that owned this path")
			}
			fmt.Println("  --resolve import   adopt the directory as-is")
			fmt.Printf("  --resolve rename   create as %q instead\n", conflict.SuggestedName)
			return fmt.Errorf("worktree creation needs a conflict resolution")
		}
		return fmt.Errorf("failed to create worktree: %w", err)
	}

	fmt.Printf("Created worktree %s (%s)\n", wt.Name, shortID(wt.ID))
	fmt.Printf("Branch: %s\n", wt.Branch)
	fmt.Printf("Path:   %s\n", shortenPath(wt.Path))
	return nil
}

func runWorktreeList(projectID string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	worktrees, err := client.ListWorktrees(projectID)
	if err != nil {
		return fmt.Errorf("failed to list worktrees: %w", err)
	}
	if len(worktrees) == 0 {
		fmt.Println("No active worktrees.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tSTATUS\tBRANCH\tPATH")
	fmt.Fprintln(w, "--\t----\t----\t------\t------\t----")
	for _, wt := range worktrees {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(wt.ID), wt.Name, wt.Kind, wt.Status, wt.Branch, shortenPath(wt.Path))
	}
	return w.Flush()
}

func runWorktreeArchive(id string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.ArchiveWorktree(id)
	if err != nil {
		if errors.Is(err, control.ErrBusy) {
			return fmt.Errorf("worktree has a running session; cancel it first")
		}
		return fmt.Errorf("failed to archive worktree: %w", err)
	}

	fmt.Printf("Archived worktree %s", result.Archived.Worktree.Name)
	if n := len(result.Sessions); n > 0 {
		fmt.Printf(" with %d session(s)", n)
	}
	fmt.Println(".")
	return nil
}

func runWorktreeRestore(id string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.UnarchiveWorktree(id)
	if err != nil {
		return fmt.Errorf("failed to restore worktree: %w", err)
	}

	fmt.Printf("Restored worktree %s", result.Worktree.Name)
	if n := len(result.Sessions); n > 0 {
		fmt.Printf(" with %d session(s)", n)
	}
	fmt.Println(".")
	return nil
}

func runWorktreeDelete(id string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.DeleteWorktree(id); err != nil {
		return fmt.Errorf("failed to delete worktree: %w", err)
	}
	fmt.Println("Worktree deleted.")
	return nil
}

func runWorktreeArchived() error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	archived, err := client.ListArchivedWorktrees()
	if err != nil {
		return fmt.Errorf("failed to list archived worktrees: %w", err)
	}
	if len(archived) == 0 {
		fmt.Println("No archived worktrees.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROJECT\tSESSIONS\tARCHIVED")
	fmt.Fprintln(w, "--\t----\t-------\t--------\t--------")
	for _, a := range archived {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			shortID(a.Worktree.ID), a.Worktree.Name, a.ProjectName, len(a.SessionIDs),
			a.ArchivedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runWorktreeOpen(id string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	wt, err := client.GetWorktree(id)
	if err != nil {
		return fmt.Errorf("failed to look up worktree: %w", err)
	}
	return terminal.Detect().OpenShell(wt.Path)
}

func runWorktreePublish(id, title, body string, draft bool) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	url, err := client.PublishWorktree(control.PublishWorktreeRequest{
		WorktreeID: id,
		Title:      title,
		Body:       body,
		Draft:      draft,
	})
	if err != nil {
		return fmt.Errorf("failed to publish worktree: %w", err)
	}

	fmt.Printf("Pull request: %s\n", url)
	return nil
}

// Session commands

func runSessionNew(worktreeID, name string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.CreateSession(worktreeID, name)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	fmt.Printf("Created session %s (%s)\n", session.Name, shortID(session.ID))
	fmt.Printf("Agent: %s  Mode: %s\n", session.Agent, session.ExecutionMode)
	return nil
}

func runSessionList(worktreeID string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	sessions, err := client.ListWorktreeSessions(worktreeID)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions. Create one with: jean session new " + worktreeID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tAGENT\tMODE\tSTATE")
	fmt.Fprintln(w, "--\t----\t-----\t----\t-----")
	for _, s := range sessions {
		state := "idle"
		if s.WaitingForInput {
			state = "waiting for input"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(s.ID), s.Name, s.Agent, s.ExecutionMode, state)
	}
	return w.Flush()
}

func runSessionSet(sessionID, field, value string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.UpdateSessionSettings(control.UpdateSessionSettingsRequest{
		SessionID: sessionID,
		Field:     field,
		Value:     value,
	})
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	fmt.Printf("Session %s: %s = %s\n", session.Name, field, value)
	return nil
}

func runSessionRestore(sessionID, projectID string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.RestoreSessionWithBase(sessionID, projectID)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	fmt.Printf("Restored session %s onto worktree %s\n", result.Session.Name, result.Worktree.Name)
	return nil
}

func runSessionAttach(sessionID string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.SessionAttachInfo(sessionID)
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	return terminal.Detect().AttachToSession(info.Path, info.Agent, info.AgentSessionID)
}

func runSessionArchived() error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	archived, err := client.ListArchivedSessions()
	if err != nil {
		return fmt.Errorf("failed to list archived sessions: %w", err)
	}
	if len(archived) == 0 {
		fmt.Println("No archived sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROJECT\tWORKTREE\tARCHIVED")
	fmt.Fprintln(w, "--\t----\t-------\t--------\t--------")
	for _, a := range archived {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID(a.Session.ID), a.Session.Name, a.ProjectName, a.WorktreeName,
			a.ArchivedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// Chat commands

func runChat(worktreeID, sessionID, text, agent, model, mode string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.SendChat(control.SendChatRequest{
		WorktreeID: worktreeID,
		SessionID:  sessionID,
		Text:       text,
		Agent:      entity.AgentKind(agent),
		Model:      model,
		Mode:       mode,
	}); err != nil {
		if errors.Is(err, control.ErrBusy) {
			return fmt.Errorf("session is busy; cancel the running turn first")
		}
		return fmt.Errorf("failed to send: %w", err)
	}

	// Stream the reply until a terminal event for this session.
	for ev := range client.Events() {
		switch ev.Type {
		case control.EventChatChunk:
			var chunk control.ChunkEvent
			if json.Unmarshal(ev.Payload, &chunk) == nil && chunk.SessionID == sessionID {
				fmt.Print(chunk.Content)
			}
		case control.EventChatToolUse:
			var tool control.ToolUseEvent
			if json.Unmarshal(ev.Payload, &tool) == nil && tool.SessionID == sessionID {
				fmt.Printf("\n[tool: %s]\n", tool.Name)
			}
		case control.EventChatDone:
			var done control.DoneEvent
			if json.Unmarshal(ev.Payload, &done) == nil && done.SessionID == sessionID {
				fmt.Println()
				return nil
			}
		case control.EventChatError:
			var chatErr control.ErrorEvent
			if json.Unmarshal(ev.Payload, &chatErr) == nil && chatErr.SessionID == sessionID {
				fmt.Println()
				return fmt.Errorf("agent error: %s", chatErr.Error)
			}
		case control.EventChatCancelled:
			var cancelled control.CancelledEvent
			if json.Unmarshal(ev.Payload, &cancelled) == nil && cancelled.SessionID == sessionID {
				fmt.Println("\n(cancelled)")
				return nil
			}
		}
	}
	return fmt.Errorf("connection closed mid-stream")
}

func runCancel(sessionID string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	cancelled, err := client.CancelChat(sessionID)
	if err != nil {
		return fmt.Errorf("failed to cancel: %w", err)
	}
	if !cancelled {
		fmt.Println("Nothing running for that session.")
		return nil
	}
	fmt.Println("Cancelled.")
	return nil
}

// Helpers

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortenPath(path string) string {
	home, _ := os.UserHomeDir()
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}

func absPath(path string) (string, error) {
	return filepath.Abs(path)
}

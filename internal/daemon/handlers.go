package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/logging"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/worktree"
)

func (d *Daemon) registerHandlers() {
	d.server.Handle("status", d.handleStatus)

	d.server.Handle("list_projects", d.handleListProjects)
	d.server.Handle("add_project", d.handleAddProject)
	d.server.Handle("delete_project", d.handleDeleteProject)

	d.server.Handle("list_worktrees", d.handleListWorktrees)
	d.server.Handle("get_worktree", d.handleGetWorktree)
	d.server.Handle("create_worktree", d.handleCreateWorktree)
	d.server.Handle("archive_worktree", d.handleArchiveWorktree)
	d.server.Handle("unarchive_worktree", d.handleUnarchiveWorktree)
	d.server.Handle("delete_worktree", d.handleDeleteWorktree)
	d.server.Handle("list_archived_worktrees", d.handleListArchivedWorktrees)
	d.server.Handle("publish_worktree", d.handlePublishWorktree)

	d.server.Handle("create_session", d.handleCreateSession)
	d.server.Handle("list_sessions", d.handleListSessions)
	d.server.Handle("get_session", d.handleGetSession)
	d.server.Handle("list_archived_sessions", d.handleListArchivedSessions)
	d.server.Handle("restore_session_with_base", d.handleRestoreSessionWithBase)
	d.server.Handle("update_session_settings", d.handleUpdateSessionSettings)
	d.server.Handle("session_attach_info", d.handleSessionAttachInfo)
	d.server.Handle("approve_plan", d.handleApprovePlan)

	d.server.Handle("send_chat", d.handleSendChat)
	d.server.Handle("cancel_chat", d.handleCancelChat)
}

type idParams struct {
	ID string `json:"id"`
}

func (d *Daemon) handleStatus(params json.RawMessage) (any, error) {
	projects, err := d.store.ListProjects()
	if err != nil {
		return nil, err
	}
	worktrees, err := d.store.ListWorktrees("")
	if err != nil {
		return nil, err
	}

	d.runsMu.Lock()
	active := len(d.runs)
	d.runsMu.Unlock()

	return map[string]any{
		"uptime":      time.Since(d.startedAt).Round(time.Second).String(),
		"projects":    len(projects),
		"worktrees":   len(worktrees),
		"active_runs": active,
	}, nil
}

// --- Projects ---

func (d *Daemon) handleListProjects(params json.RawMessage) (any, error) {
	return d.store.ListProjects()
}

func (d *Daemon) handleAddProject(params json.RawMessage) (any, error) {
	var req struct {
		Path string `json:"path"`
		Name string `json:"name,omitempty"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if req.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	info, err := os.Stat(req.Path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", req.Path)
	}
	if _, err := os.Stat(filepath.Join(req.Path, ".git")); err != nil {
		return nil, fmt.Errorf("not a git repository: %s", req.Path)
	}

	name := req.Name
	if name == "" {
		name = projectNameFromPath(req.Path)
	}

	project := &entity.Project{
		ID:            uuid.NewString(),
		Name:          name,
		Path:          req.Path,
		DefaultBranch: worktree.DetectDefaultBranch(req.Path),
	}
	if err := d.store.CreateProject(project); err != nil {
		return nil, err
	}
	if _, err := d.provisioner.EnsureBase(project); err != nil {
		return nil, err
	}

	logging.Info("project added", "id", project.ID, "path", project.Path)
	return project, nil
}

func (d *Daemon) handleDeleteProject(params json.RawMessage) (any, error) {
	var req idParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	project, err := d.store.GetProject(req.ID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, control.ErrNotFound
	}

	worktrees, err := d.store.ListWorktrees(req.ID)
	if err != nil {
		return nil, err
	}
	for _, wt := range worktrees {
		if wt.Kind == entity.WorktreeFeature {
			return nil, fmt.Errorf("project has active worktrees, archive them first")
		}
	}

	// The base worktree wraps the project directory itself; drop its
	// record without touching files.
	for _, wt := range worktrees {
		if _, _, err := d.store.ArchiveWorktree(wt.ID); err != nil {
			return nil, err
		}
		if err := d.store.DeleteWorktree(wt.ID); err != nil {
			return nil, err
		}
	}
	if err := d.store.DeleteProject(req.ID); err != nil {
		return nil, err
	}
	logging.Info("project deleted", "id", req.ID)
	return true, nil
}

// --- Worktrees ---

func (d *Daemon) handleListWorktrees(params json.RawMessage) (any, error) {
	var req struct {
		ProjectID string `json:"project_id,omitempty"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}
	return d.store.ListWorktrees(req.ProjectID)
}

func (d *Daemon) handleGetWorktree(params json.RawMessage) (any, error) {
	var req idParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	wt, err := d.store.GetWorktree(req.ID)
	if err != nil {
		return nil, err
	}
	if wt == nil {
		return nil, control.ErrNotFound
	}
	return wt, nil
}

func (d *Daemon) handleCreateWorktree(params json.RawMessage) (any, error) {
	var req control.CreateWorktreeRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	project, err := d.store.GetProject(req.ProjectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, control.ErrNotFound
	}

	var wt *entity.Worktree
	switch req.Resolve {
	case "":
		wt, err = d.provisioner.Create(project, req.Name)
	case "restore":
		return d.resolveByRestore(project, req.Name)
	case "import":
		wt, err = d.provisioner.Import(project, req.Name, d.provisioner.TargetPath(project, req.Name))
	case "rename":
		wt, err = d.provisioner.Create(project, d.provisioner.Disambiguate(project, req.Name))
	default:
		return nil, fmt.Errorf("unknown resolve mode: %s", req.Resolve)
	}
	if err != nil {
		return nil, err
	}

	d.broadcast(control.EventWorktreeCreated, control.WorktreeCreatedEvent{Worktree: wt})
	return wt, nil
}

// resolveByRestore unarchives the worktree that previously occupied the
// conflicting path.
func (d *Daemon) resolveByRestore(project *entity.Project, name string) (any, error) {
	path := d.provisioner.TargetPath(project, name)
	archived, err := d.store.GetArchivedWorktreeByPath(path)
	if err != nil {
		return nil, err
	}
	if archived == nil {
		return nil, fmt.Errorf("no archived worktree at %s", path)
	}
	return d.unarchiveWorktree(archived.ID)
}

func (d *Daemon) handleArchiveWorktree(params json.RawMessage) (any, error) {
	var req idParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	wt, err := d.store.GetWorktree(req.ID)
	if err != nil {
		return nil, err
	}
	if wt == nil {
		return nil, control.ErrNotFound
	}
	if wt.ArchivedAt != nil {
		return nil, fmt.Errorf("worktree already archived")
	}

	if d.sessionBusyUnder(wt.ID) {
		return nil, control.ErrBusy
	}

	archivedAt, sessionIDs, err := d.store.ArchiveWorktree(req.ID)
	if err != nil {
		return nil, err
	}

	project, _ := d.store.GetProject(wt.ProjectID)
	projectName := ""
	if project != nil {
		projectName = project.Name
	}

	now := archivedAt
	wt.ArchivedAt = &now
	result := &control.ArchiveWorktreeResult{
		Archived: &entity.ArchivedWorktree{
			Worktree:    wt,
			ArchivedAt:  archivedAt,
			ProjectName: projectName,
			SessionIDs:  sessionIDs,
		},
	}
	result.Sessions, err = d.archivedSessionsFor(wt.ID, archivedAt)
	if err != nil {
		return nil, err
	}

	d.broadcast(control.EventWorktreeArchived, control.WorktreeArchivedEvent{
		Archived: result.Archived,
		Sessions: result.Sessions,
	})
	logging.Info("worktree archived", "id", req.ID, "sessions", len(sessionIDs))
	return result, nil
}

func (d *Daemon) archivedSessionsFor(worktreeID string, archivedAt time.Time) ([]*entity.ArchivedSession, error) {
	all, err := d.store.ListArchivedSessions()
	if err != nil {
		return nil, err
	}
	var out []*entity.ArchivedSession
	for _, as := range all {
		if as.WorktreeID == worktreeID && as.ArchivedAt.Equal(archivedAt) {
			out = append(out, as)
		}
	}
	return out, nil
}

func (d *Daemon) handleUnarchiveWorktree(params json.RawMessage) (any, error) {
	var req idParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	return d.unarchiveWorktree(req.ID)
}

func (d *Daemon) unarchiveWorktree(id string) (any, error) {
	if err := d.store.UnarchiveWorktree(id); err != nil {
		return nil, err
	}
	wt, err := d.store.GetWorktree(id)
	if err != nil {
		return nil, err
	}
	if wt == nil {
		return nil, control.ErrNotFound
	}
	sessions, err := d.store.ListSessions(id)
	if err != nil {
		return nil, err
	}

	result := &control.UnarchiveWorktreeResult{Worktree: wt, Sessions: sessions}
	d.broadcast(control.EventWorktreeUnarchived, control.WorktreeUnarchivedEvent{
		Worktree: wt,
		Sessions: sessions,
	})
	logging.Info("worktree unarchived", "id", id, "sessions", len(sessions))
	return result, nil
}

func (d *Daemon) handleDeleteWorktree(params json.RawMessage) (any, error) {
	var req idParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	wt, err := d.store.GetWorktree(req.ID)
	if err != nil {
		return nil, err
	}
	if wt == nil {
		return nil, control.ErrNotFound
	}
	if wt.ArchivedAt == nil {
		return nil, fmt.Errorf("only archived worktrees can be deleted")
	}

	project, err := d.store.GetProject(wt.ProjectID)
	if err != nil {
		return nil, err
	}
	if project != nil && wt.Kind == entity.WorktreeFeature {
		if err := d.provisioner.RemoveFiles(project, wt); err != nil {
			logging.Warn("failed to remove worktree files", "id", req.ID, "error", err)
		}
	}

	if err := d.store.DeleteWorktree(req.ID); err != nil {
		return nil, err
	}
	logging.Info("worktree deleted", "id", req.ID)
	return true, nil
}

func (d *Daemon) handleListArchivedWorktrees(params json.RawMessage) (any, error) {
	return d.store.ListArchivedWorktrees()
}

func (d *Daemon) handlePublishWorktree(params json.RawMessage) (any, error) {
	var req control.PublishWorktreeRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	wt, err := d.store.GetWorktree(req.WorktreeID)
	if err != nil {
		return nil, err
	}
	if wt == nil {
		return nil, control.ErrNotFound
	}
	project, err := d.store.GetProject(wt.ProjectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, control.ErrNotFound
	}

	result, err := d.publisher.PublishPR(project, wt, req.Title, req.Body)
	if err != nil {
		return nil, err
	}
	return map[string]string{"url": result.PRURL, "branch": result.Branch}, nil
}

// --- Sessions ---

func (d *Daemon) handleCreateSession(params json.RawMessage) (any, error) {
	var req struct {
		WorktreeID string `json:"worktree_id"`
		Name       string `json:"name,omitempty"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	wt, err := d.store.GetWorktree(req.WorktreeID)
	if err != nil {
		return nil, err
	}
	if wt == nil {
		return nil, control.ErrNotFound
	}
	if wt.ArchivedAt != nil {
		return nil, fmt.Errorf("cannot create session on archived worktree")
	}

	name := req.Name
	if name == "" {
		existing, err := d.store.ListSessions(req.WorktreeID)
		if err != nil {
			return nil, err
		}
		name = fmt.Sprintf("Session %d", len(existing)+1)
	}

	session := &entity.Session{
		ID:            uuid.NewString(),
		WorktreeID:    req.WorktreeID,
		Name:          name,
		Agent:         entity.AgentKind(d.config.Agents.Default),
		Model:         d.config.Agents.Model,
		ExecutionMode: d.config.Agents.Mode,
		Thinking:      entity.ThinkingLevel(d.config.Agents.Thinking),
	}
	if err := d.store.CreateSession(session); err != nil {
		return nil, err
	}

	logging.Info("session created", "id", session.ID, "worktree", req.WorktreeID)
	return session, nil
}

func (d *Daemon) handleListSessions(params json.RawMessage) (any, error) {
	var req struct {
		WorktreeID string `json:"worktree_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	return d.store.ListSessions(req.WorktreeID)
}

func (d *Daemon) handleGetSession(params json.RawMessage) (any, error) {
	var req idParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	session, err := d.store.GetSession(req.ID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, control.ErrNotFound
	}
	return session, nil
}

func (d *Daemon) handleListArchivedSessions(params json.RawMessage) (any, error) {
	return d.store.ListArchivedSessions()
}

func (d *Daemon) handleRestoreSessionWithBase(params json.RawMessage) (any, error) {
	var req struct {
		SessionID string `json:"session_id"`
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	project, err := d.store.GetProject(req.ProjectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, control.ErrNotFound
	}

	// Reattach to the original worktree when it is still active,
	// otherwise to the project's base worktree.
	session, err := d.store.GetSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, control.ErrNotFound
	}

	target, err := d.store.GetWorktree(session.WorktreeID)
	if err != nil {
		return nil, err
	}
	if target == nil || target.ArchivedAt != nil {
		target, err = d.provisioner.EnsureBase(project)
		if err != nil {
			return nil, err
		}
	}

	if err := d.store.RestoreSession(req.SessionID, target.ID); err != nil {
		return nil, err
	}
	session, err = d.store.GetSession(req.SessionID)
	if err != nil {
		return nil, err
	}

	logging.Info("session restored", "id", req.SessionID, "worktree", target.ID)
	return &control.RestoreSessionResult{Session: session, Worktree: target}, nil
}

func (d *Daemon) handleUpdateSessionSettings(params json.RawMessage) (any, error) {
	var req control.UpdateSessionSettingsRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	if err := d.store.UpdateSessionSetting(req.SessionID, req.Field, req.Value); err != nil {
		return nil, err
	}
	session, err := d.store.GetSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, control.ErrNotFound
	}

	d.broadcast(control.EventSessionSettingChanged, control.SettingChangedEvent{
		SessionID: req.SessionID,
		Field:     req.Field,
		Value:     req.Value,
	})
	return session, nil
}

// handleSessionAttachInfo returns what a client needs to resume the
// agent CLI by hand in the session's worktree.
func (d *Daemon) handleSessionAttachInfo(params json.RawMessage) (any, error) {
	var req idParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	session, err := d.store.GetSession(req.ID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, control.ErrNotFound
	}
	wt, err := d.store.GetWorktree(session.WorktreeID)
	if err != nil {
		return nil, err
	}
	if wt == nil {
		return nil, control.ErrNotFound
	}
	agentSessionID, err := d.store.GetAgentSessionID(req.ID)
	if err != nil {
		return nil, err
	}
	return &control.SessionAttachInfo{
		Path:           wt.Path,
		Agent:          session.Agent,
		AgentSessionID: agentSessionID,
	}, nil
}

func (d *Daemon) handleApprovePlan(params json.RawMessage) (any, error) {
	var req struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if err := d.store.ApprovePlan(req.MessageID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return true, nil
}

// sessionBusyUnder reports whether any session of the worktree has an
// in-flight run.
func (d *Daemon) sessionBusyUnder(worktreeID string) bool {
	sessions, err := d.store.ListSessions(worktreeID)
	if err != nil {
		return false
	}
	d.runsMu.Lock()
	defer d.runsMu.Unlock()
	for _, sess := range sessions {
		if _, ok := d.runs[sess.ID]; ok {
			return true
		}
	}
	return false
}

func projectNameFromPath(path string) string {
	return filepath.Base(path)
}

package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

// Client connects to the jeand daemon.
type Client struct {
	conn      net.Conn
	scanner   *bufio.Scanner
	mu        sync.Mutex
	pending   map[string]chan *Response
	events    chan Event
	done      chan struct{}
	connected atomic.Bool
}

// NewClient connects to the daemon socket.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	c := &Client{
		conn:    conn,
		scanner: scanner,
		pending: make(map[string]chan *Response),
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}
	c.connected.Store(true)

	go c.readLoop()
	return c, nil
}

// Close disconnects from the daemon.
func (c *Client) Close() error {
	c.connected.Store(false)
	close(c.done)
	return c.conn.Close()
}

// Events returns the push event channel. Events are delivered in the
// order the daemon emitted them on this connection.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Call makes an RPC call and decodes the structured error, if any.
func (c *Client) Call(method string, params any, result any) error {
	if !c.connected.Load() {
		return &TransientError{Err: fmt.Errorf("not connected to daemon")}
	}

	id := uuid.NewString()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}

	req := Request{Method: method, Params: paramsJSON, ID: id}

	respChan := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[id] = respChan
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	encoded, _ := json.Marshal(req)
	c.mu.Lock()
	_, err = c.conn.Write(append(encoded, '\n'))
	c.mu.Unlock()
	if err != nil {
		return &TransientError{Err: err}
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return FromWire(resp.Error)
		}
		if result != nil && len(resp.Data) > 0 {
			return json.Unmarshal(resp.Data, result)
		}
		return nil
	case <-c.done:
		return &TransientError{Err: fmt.Errorf("client closed")}
	}
}

func (c *Client) readLoop() {
	for c.scanner.Scan() {
		select {
		case <-c.done:
			return
		default:
		}

		line := c.scanner.Bytes()

		var resp Response
		if err := json.Unmarshal(line, &resp); err == nil && resp.ID != "" {
			c.mu.Lock()
			if ch, ok := c.pending[resp.ID]; ok {
				ch <- &resp
			}
			c.mu.Unlock()
			continue
		}

		var event Event
		if json.Unmarshal(line, &event) == nil && event.Type != "" {
			select {
			case c.events <- event:
			default: // drop if channel full; the poller repairs misses
			}
		}
	}

	c.connected.Store(false)
}

// --- Request/result records for the command surface ---

// CreateWorktreeRequest asks the daemon to provision a new worktree.
type CreateWorktreeRequest struct {
	ProjectID string           `json:"project_id"`
	Name      string           `json:"name,omitempty"` // optional custom name
	Agent     entity.AgentKind `json:"agent,omitempty"`
	// Resolve selects a conflict resolution mode when the target path
	// already exists: "" fails with a conflict, "restore" restores the
	// matching archived worktree, "import" adopts the directory as-is,
	// "rename" creates under a disambiguated generated name.
	Resolve string `json:"resolve,omitempty"`
}

// ArchiveWorktreeResult is the cascade outcome of archiving a worktree.
type ArchiveWorktreeResult struct {
	Archived *entity.ArchivedWorktree  `json:"archived"`
	Sessions []*entity.ArchivedSession `json:"sessions,omitempty"`
}

// UnarchiveWorktreeResult is the outcome of restoring a worktree.
type UnarchiveWorktreeResult struct {
	Worktree *entity.Worktree  `json:"worktree"`
	Sessions []*entity.Session `json:"sessions,omitempty"`
}

// SendChatRequest submits a user message for streaming execution.
type SendChatRequest struct {
	WorktreeID string               `json:"worktree_id"`
	SessionID  string               `json:"session_id"`
	Text       string               `json:"text"`
	Agent      entity.AgentKind     `json:"agent,omitempty"`
	Model      string               `json:"model,omitempty"`
	Mode       string               `json:"mode,omitempty"`
	Thinking   entity.ThinkingLevel `json:"thinking,omitempty"`
}

// RestoreSessionResult pairs a restored session with its (possibly
// re-created) base worktree attachment point.
type RestoreSessionResult struct {
	Session  *entity.Session  `json:"session"`
	Worktree *entity.Worktree `json:"worktree"`
}

// UpdateSessionSettingsRequest changes one execution setting.
type UpdateSessionSettingsRequest struct {
	SessionID string `json:"session_id"`
	Field     string `json:"field"`
	Value     string `json:"value"`
}

// SessionAttachInfo is what a client needs to resume the agent CLI by
// hand inside the session's worktree.
type SessionAttachInfo struct {
	Path           string           `json:"path"`
	Agent          entity.AgentKind `json:"agent"`
	AgentSessionID string           `json:"agent_session_id,omitempty"`
}

// PublishWorktreeRequest opens a pull request for a worktree branch.
type PublishWorktreeRequest struct {
	WorktreeID string `json:"worktree_id"`
	Title      string `json:"title"`
	Body       string `json:"body,omitempty"`
	Draft      bool   `json:"draft,omitempty"`
}

// --- Typed calls ---

// ListProjects retrieves all registered projects.
func (c *Client) ListProjects() ([]*entity.Project, error) {
	var projects []*entity.Project
	err := c.Call("list_projects", nil, &projects)
	return projects, err
}

// AddProject registers a repository path as a project.
func (c *Client) AddProject(path, name string) (*entity.Project, error) {
	var project entity.Project
	err := c.Call("add_project", map[string]string{"path": path, "name": name}, &project)
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// ListWorktrees retrieves active worktrees, optionally scoped to a project.
func (c *Client) ListWorktrees(projectID string) ([]*entity.Worktree, error) {
	var worktrees []*entity.Worktree
	err := c.Call("list_worktrees", map[string]string{"project_id": projectID}, &worktrees)
	return worktrees, err
}

// GetWorktree fetches one worktree by id.
func (c *Client) GetWorktree(id string) (*entity.Worktree, error) {
	var wt entity.Worktree
	if err := c.Call("get_worktree", map[string]string{"id": id}, &wt); err != nil {
		return nil, err
	}
	return &wt, nil
}

// CreateWorktree provisions a new worktree. The returned worktree is
// pending until confirmed by a worktree:created event or a poll.
func (c *Client) CreateWorktree(req CreateWorktreeRequest) (*entity.Worktree, error) {
	var wt entity.Worktree
	if err := c.Call("create_worktree", req, &wt); err != nil {
		return nil, err
	}
	return &wt, nil
}

// ArchiveWorktree archives a worktree, cascading to its sessions.
func (c *Client) ArchiveWorktree(id string) (*ArchiveWorktreeResult, error) {
	var result ArchiveWorktreeResult
	if err := c.Call("archive_worktree", map[string]string{"id": id}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UnarchiveWorktree restores an archived worktree and its sessions.
func (c *Client) UnarchiveWorktree(id string) (*UnarchiveWorktreeResult, error) {
	var result UnarchiveWorktreeResult
	if err := c.Call("unarchive_worktree", map[string]string{"id": id}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteWorktree permanently deletes an archived worktree.
func (c *Client) DeleteWorktree(id string) error {
	return c.Call("delete_worktree", map[string]string{"id": id}, nil)
}

// ListArchivedWorktrees retrieves the archived worktree collection.
func (c *Client) ListArchivedWorktrees() ([]*entity.ArchivedWorktree, error) {
	var archived []*entity.ArchivedWorktree
	err := c.Call("list_archived_worktrees", nil, &archived)
	return archived, err
}

// ListArchivedSessions retrieves the global archived-sessions collection.
func (c *Client) ListArchivedSessions() ([]*entity.ArchivedSession, error) {
	var archived []*entity.ArchivedSession
	err := c.Call("list_archived_sessions", nil, &archived)
	return archived, err
}

// CreateSession creates a session attached to a worktree.
func (c *Client) CreateSession(worktreeID, name string) (*entity.Session, error) {
	var session entity.Session
	err := c.Call("create_session", map[string]string{"worktree_id": worktreeID, "name": name}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListWorktreeSessions retrieves a worktree's live sessions in order.
func (c *Client) ListWorktreeSessions(worktreeID string) ([]*entity.Session, error) {
	var sessions []*entity.Session
	err := c.Call("list_sessions", map[string]string{"worktree_id": worktreeID}, &sessions)
	return sessions, err
}

// GetSession fetches one session by id, messages included.
func (c *Client) GetSession(id string) (*entity.Session, error) {
	var session entity.Session
	if err := c.Call("get_session", map[string]string{"id": id}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// SendChat submits a message; streaming events follow on Events().
func (c *Client) SendChat(req SendChatRequest) (*entity.Message, error) {
	var msg entity.Message
	if err := c.Call("send_chat", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CancelChat aborts the in-flight run for a session.
func (c *Client) CancelChat(sessionID string) (bool, error) {
	var cancelled bool
	err := c.Call("cancel_chat", map[string]string{"session_id": sessionID}, &cancelled)
	return cancelled, err
}

// UpdateSessionSettings changes one execution setting; a
// session:setting_changed event is broadcast to other observers.
func (c *Client) UpdateSessionSettings(req UpdateSessionSettingsRequest) (*entity.Session, error) {
	var session entity.Session
	if err := c.Call("update_session_settings", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RestoreSessionWithBase re-attaches an orphaned archived session to the
// project's base worktree, re-creating the base if needed.
func (c *Client) RestoreSessionWithBase(sessionID, projectID string) (*RestoreSessionResult, error) {
	var result RestoreSessionResult
	err := c.Call("restore_session_with_base", map[string]string{
		"session_id": sessionID,
		"project_id": projectID,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SessionAttachInfo fetches the attach point for manual takeover of a
// session's agent conversation.
func (c *Client) SessionAttachInfo(sessionID string) (*SessionAttachInfo, error) {
	var info SessionAttachInfo
	if err := c.Call("session_attach_info", map[string]string{"id": sessionID}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// PublishWorktree opens a PR for the worktree's branch. Returns the PR URL.
func (c *Client) PublishWorktree(req PublishWorktreeRequest) (string, error) {
	var result struct {
		URL string `json:"url"`
	}
	if err := c.Call("publish_worktree", req, &result); err != nil {
		return "", err
	}
	return result.URL, nil
}

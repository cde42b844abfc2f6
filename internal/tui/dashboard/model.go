// Package dashboard is the jean TUI: a worktree tree on the left, the
// active session's chat on the right, driven by the sync engine.
package dashboard

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/config"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/engine"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/tui"
)

// focusArea selects which pane receives key input.
type focusArea int

const (
	focusTree focusArea = iota
	focusSessions
	focusInput
)

// inputMode repurposes the single input line for different prompts.
type inputMode int

const (
	inputChat inputMode = iota
	inputWorktreeName
	inputSessionName
)

// treeRow is one selectable line in the left pane: a project header or
// one of its worktrees.
type treeRow struct {
	project  *entity.Project
	worktree *entity.Worktree // nil for project headers
}

// pendingConflict holds an unresolved worktree-creation collision while
// the user picks one of the three options.
type pendingConflict struct {
	projectID string
	name      string
	conflict  *engine.Conflict
}

type notice struct {
	engine.Notice
	at time.Time
}

// Model is the dashboard root model.
type Model struct {
	eng *engine.Engine
	cfg *config.Config

	width  int
	height int
	ready  bool

	focus focusArea
	mode  inputMode

	rows       []treeRow
	treeSel    int
	sessionSel int

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model
	follow   bool

	conflict *pendingConflict
	notices  []notice

	noticeCh chan engine.Notice
	undoCh   chan undoSend

	startErr error
}

type undoSend struct {
	sessionID string
	text      string
}

type (
	tickMsg         time.Time
	noticeMsg       engine.Notice
	undoSendMsg     undoSend
	engineReadyMsg  struct{}
	engineFailedMsg struct{ err error }
)

// New assembles the dashboard over a daemon connection. The engine owns
// snapshot load, event consumption, and fallback polling; the model
// only reads the store and issues commands.
func New(client *control.Client, cfg *config.Config) Model {
	noticeCh := make(chan engine.Notice, 16)
	undoCh := make(chan undoSend, 4)

	eng := engine.New(client, engine.Options{
		PollDeadline: cfg.Sync.PollDeadline,
		PollBackoff:  cfg.Sync.PollBackoff,
		PollAttempts: cfg.Sync.PollAttempts,
		QueueLimit:   cfg.Sync.QueueLimit,
		Notify: func(n engine.Notice) {
			select {
			case noticeCh <- n:
			default:
			}
		},
		OnUndoSend: func(sessionID, text string) {
			select {
			case undoCh <- undoSend{sessionID: sessionID, text: text}:
			default:
			}
		},
	})

	in := textinput.New()
	in.Placeholder = "Send a message..."
	in.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = tui.StyleAccent

	return Model{
		eng:      eng,
		cfg:      cfg,
		focus:    focusTree,
		input:    in,
		spinner:  sp,
		follow:   true,
		noticeCh: noticeCh,
		undoCh:   undoCh,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.startEngine,
		m.spinner.Tick,
		m.tick(),
		m.waitNotice(),
		m.waitUndo(),
	)
}

func (m Model) startEngine() tea.Msg {
	if err := m.eng.Start(); err != nil {
		return engineFailedMsg{err: err}
	}
	return engineReadyMsg{}
}

// tick drives periodic re-render; the engine mutates its store from
// event and poller goroutines outside the tea loop.
func (m Model) tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) waitNotice() tea.Cmd {
	return func() tea.Msg {
		return noticeMsg(<-m.noticeCh)
	}
}

func (m Model) waitUndo() tea.Cmd {
	return func() tea.Msg {
		return undoSendMsg(<-m.undoCh)
	}
}

// rebuildRows flattens projects and their active worktrees into the
// left-pane row list, preserving the current selection when possible.
func (m *Model) rebuildRows() {
	var selectedID string
	if m.treeSel < len(m.rows) && m.rows[m.treeSel].worktree != nil {
		selectedID = m.rows[m.treeSel].worktree.ID
	}

	store := m.eng.Store()
	m.rows = m.rows[:0]
	for _, p := range store.Projects() {
		m.rows = append(m.rows, treeRow{project: p})
		for _, wt := range store.Worktrees(p.ID) {
			m.rows = append(m.rows, treeRow{project: p, worktree: wt})
		}
	}

	if selectedID != "" {
		for i, row := range m.rows {
			if row.worktree != nil && row.worktree.ID == selectedID {
				m.treeSel = i
				return
			}
		}
	}
	if m.treeSel >= len(m.rows) {
		m.treeSel = max(0, len(m.rows)-1)
	}
}

// selectedWorktree returns the worktree under the tree cursor, or nil
// when a project header is selected.
func (m *Model) selectedWorktree() *entity.Worktree {
	if m.treeSel < len(m.rows) {
		return m.rows[m.treeSel].worktree
	}
	return nil
}

func (m *Model) selectedProject() *entity.Project {
	if m.treeSel < len(m.rows) {
		return m.rows[m.treeSel].project
	}
	return nil
}

// selectedSession resolves the session shown in the chat pane.
func (m *Model) selectedSession() *entity.Session {
	wt := m.selectedWorktree()
	if wt == nil {
		return nil
	}
	sessions := m.eng.Store().Sessions(wt.ID)
	if len(sessions) == 0 {
		return nil
	}
	if m.sessionSel >= len(sessions) {
		m.sessionSel = len(sessions) - 1
	}
	return sessions[m.sessionSel]
}

// pendingQuestionID finds the unanswered structured question the agent
// last asked, if the session is suspended on one. Answered state is
// keyed by the question's own id from the tool input, not the tool-call
// id.
func pendingQuestionID(sess *entity.Session) string {
	if sess == nil || !sess.WaitingForInput {
		return ""
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		for _, tc := range sess.Messages[i].ToolCalls {
			if tc.Name != control.QuestionToolName {
				continue
			}
			var q struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal([]byte(tc.Input), &q); err != nil || q.ID == "" {
				continue
			}
			if !sess.Answered(q.ID) {
				return q.ID
			}
		}
	}
	return ""
}

func (m *Model) pushNotice(n engine.Notice) {
	m.notices = append(m.notices, notice{Notice: n, at: time.Now()})
	if len(m.notices) > 3 {
		m.notices = m.notices[len(m.notices)-3:]
	}
}

// expireNotices drops notices older than their display window.
func (m *Model) expireNotices() {
	cutoff := time.Now().Add(-5 * time.Second)
	kept := m.notices[:0]
	for _, n := range m.notices {
		if n.at.After(cutoff) {
			kept = append(kept, n)
		}
	}
	m.notices = kept
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

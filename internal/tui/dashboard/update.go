package dashboard

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/charmbracelet/bubbles/viewport"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/engine"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chatWidth := m.chatWidth()
		if !m.ready {
			m.viewport = viewport.New(chatWidth, m.chatHeight())
			m.ready = true
		} else {
			m.viewport.Width = chatWidth
			m.viewport.Height = m.chatHeight()
		}

	case engineFailedMsg:
		m.startErr = msg.err
		return m, tea.Quit

	case engineReadyMsg:
		m.rebuildRows()

	case tickMsg:
		m.rebuildRows()
		m.expireNotices()
		m.refreshChat()
		cmds = append(cmds, m.tick())

	case noticeMsg:
		m.pushNotice(engine.Notice(msg))
		cmds = append(cmds, m.waitNotice())

	case undoSendMsg:
		// Instant cancellation: put the prompt back in the input box.
		if sess := m.selectedSession(); sess != nil && sess.ID == msg.sessionID {
			m.input.SetValue(msg.text)
			m.focusInput()
		}
		cmds = append(cmds, m.waitUndo())

	case tea.KeyMsg:
		model, cmd, handled := m.handleKey(msg)
		if handled {
			return model, cmd
		}
		m = model.(Model)
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	cmds = append(cmds, cmd)

	if m.focus == focusInput {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	if msg.String() == "ctrl+c" {
		m.eng.Stop()
		return m, tea.Quit, true
	}

	// A pending conflict is a modal: only its three options (or escape)
	// are accepted.
	if m.conflict != nil {
		return m.handleConflictKey(msg)
	}

	if m.focus == focusInput {
		return m.handleInputKey(msg)
	}
	return m.handleNavKey(msg)
}

func (m Model) handleConflictKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	c := m.conflict
	switch msg.String() {
	case "esc":
		m.conflict = nil
		return m, nil, true
	case "1":
		if c.conflict.ArchivedMatch == nil {
			return m, nil, true
		}
		m.resolveConflict(engine.ResolveRestore)
		return m, nil, true
	case "2":
		m.resolveConflict(engine.ResolveImport)
		return m, nil, true
	case "3":
		m.resolveConflict(engine.ResolveRename)
		return m, nil, true
	}
	return m, nil, true
}

func (m *Model) resolveConflict(res engine.ConflictResolution) {
	c := m.conflict
	m.conflict = nil
	go m.eng.ResolveWorktreeConflict(c.projectID, c.name, "", res, c.conflict)
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch msg.String() {
	case "esc":
		m.input.Blur()
		m.input.SetValue("")
		m.mode = inputChat
		m.focus = focusSessions
		return m, nil, true
	case "enter":
		text := m.input.Value()
		if text == "" {
			return m, nil, true
		}
		m.input.SetValue("")
		switch m.mode {
		case inputWorktreeName:
			m.mode = inputChat
			m.input.Blur()
			m.input.Placeholder = "Send a message..."
			m.focus = focusTree
			m.createWorktree(text)
		case inputSessionName:
			m.mode = inputChat
			m.input.Blur()
			m.input.Placeholder = "Send a message..."
			m.focus = focusSessions
			if wt := m.selectedWorktree(); wt != nil {
				go m.eng.CreateSession(wt.ID, text)
			}
		default:
			m.sendChat(text)
		}
		return m, nil, true
	}
	return m, nil, false
}

func (m Model) handleNavKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch msg.String() {
	case "q":
		m.eng.Stop()
		return m, tea.Quit, true

	case "tab":
		if m.focus == focusTree {
			m.focus = focusSessions
		} else {
			m.focus = focusTree
		}
		return m, nil, true

	case "up", "k":
		if m.focus == focusTree {
			m.moveTree(-1)
		} else {
			m.moveSession(-1)
		}
		return m, nil, true

	case "down", "j":
		if m.focus == focusTree {
			m.moveTree(1)
		} else {
			m.moveSession(1)
		}
		return m, nil, true

	case "enter", "i":
		if m.selectedSession() != nil {
			m.focusInput()
		}
		return m, nil, true

	case "n":
		if m.focus == focusTree {
			if m.selectedProject() == nil {
				return m, nil, true
			}
			m.mode = inputWorktreeName
			m.input.Placeholder = "New worktree name..."
			m.focusInput()
		} else {
			if m.selectedWorktree() == nil {
				return m, nil, true
			}
			m.mode = inputSessionName
			m.input.Placeholder = "New session name..."
			m.focusInput()
		}
		return m, nil, true

	case "a":
		if wt := m.selectedWorktree(); wt != nil {
			go m.eng.ArchiveWorktree(wt.ID)
		}
		return m, nil, true

	case "x":
		if sess := m.selectedSession(); sess != nil {
			go m.eng.Cancel(sess.ID)
		}
		return m, nil, true

	case "m":
		m.cycleSetting("execution_mode", []string{"plan", "build", "yolo"})
		return m, nil, true

	case "t":
		m.cycleSetting("thinking", []string{"low", "medium", "high"})
		return m, nil, true

	case "g":
		m.viewport.GotoTop()
		m.follow = false
		return m, nil, true

	case "G":
		m.viewport.GotoBottom()
		m.follow = true
		return m, nil, true
	}
	return m, nil, false
}

func (m *Model) moveTree(delta int) {
	if len(m.rows) == 0 {
		return
	}
	next := m.treeSel + delta
	// Skip project header rows; they are labels, not targets.
	for next >= 0 && next < len(m.rows) && m.rows[next].worktree == nil {
		next += delta
	}
	if next >= 0 && next < len(m.rows) {
		m.treeSel = next
		m.sessionSel = 0
	}
}

func (m *Model) moveSession(delta int) {
	wt := m.selectedWorktree()
	if wt == nil {
		return
	}
	n := len(m.eng.Store().Sessions(wt.ID))
	if n == 0 {
		return
	}
	m.sessionSel = (m.sessionSel + delta + n) % n
}

func (m *Model) focusInput() {
	m.focus = focusInput
	m.input.Focus()
}

func (m *Model) createWorktree(name string) {
	project := m.selectedProject()
	if project == nil {
		return
	}
	_, conflict, err := m.eng.CreateWorktree(project.ID, name, "")
	if err != nil {
		return // surfaced as a notice by the engine
	}
	if conflict != nil {
		m.conflict = &pendingConflict{projectID: project.ID, name: name, conflict: conflict}
	}
}

// sendChat routes the composed text: an answer when the session is
// suspended on a question, an ordinary send otherwise. Queue-full is the
// only send error surfaced directly.
func (m *Model) sendChat(text string) {
	sess := m.selectedSession()
	wt := m.selectedWorktree()
	if sess == nil || wt == nil {
		return
	}

	var err error
	if qid := pendingQuestionID(sess); qid != "" {
		err = m.eng.Answer(sess.ID, qid, text)
	} else {
		err = m.eng.Send(control.SendChatRequest{
			WorktreeID: wt.ID,
			SessionID:  sess.ID,
			Text:       text,
		})
	}
	if err != nil {
		m.pushNotice(engine.Notice{Level: "error", Text: err.Error()})
		m.input.SetValue(text)
	}
}

func (m *Model) cycleSetting(field string, values []string) {
	sess := m.selectedSession()
	if sess == nil {
		return
	}
	current := sess.ExecutionMode
	if field == "thinking" {
		current = string(sess.Thinking)
	}
	next := values[0]
	for i, v := range values {
		if v == current {
			next = values[(i+1)%len(values)]
			break
		}
	}
	go m.eng.UpdateSessionSetting(sess.ID, field, next)
}

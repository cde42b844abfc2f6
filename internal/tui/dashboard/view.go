package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/engine"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/tui"
)

const treeWidth = 34

func (m Model) chatWidth() int {
	w := m.width - treeWidth - 3
	if w < 20 {
		w = 20
	}
	return w
}

func (m Model) chatHeight() int {
	h := m.height - 7
	if h < 5 {
		h = 5
	}
	return h
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.conflict != nil {
		return m.viewConflict()
	}

	left := m.viewTree()
	right := m.viewChat()
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)

	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n")
	b.WriteString(m.viewInput())
	b.WriteString("\n")
	b.WriteString(m.viewFooter())
	return b.String()
}

func (m Model) viewHeader() string {
	title := tui.StyleTitle.Render("jean")
	right := ""
	if sess := m.cloneSelectedSession(); sess != nil {
		right = tui.StyleMuted.Render(fmt.Sprintf("%s · %s · %s", sess.Agent, orDash(sess.ExecutionMode), orDash(string(sess.Thinking))))
	}
	gap := m.width - lipgloss.Width(title) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return title + strings.Repeat(" ", gap) + right
}

func (m Model) viewTree() string {
	var lines []string
	for i, row := range m.rows {
		var line string
		if row.worktree == nil {
			line = tui.StyleHeader.Render(row.project.Name)
		} else {
			wt := row.worktree
			marker := "  "
			if wt.Kind == entity.WorktreeBase {
				marker = "◆ "
			} else {
				marker = "◇ "
			}
			status := tui.StatusStyle(string(wt.Status)).Render("●")
			name := wt.Name
			if wt.Status == entity.WorktreeError {
				name += " !"
			}
			line = fmt.Sprintf(" %s%s %s", marker, status, name)
			if i == m.treeSel {
				line = tui.StyleSelected.Render(line)
			}
		}
		lines = append(lines, truncate(line, treeWidth))
	}
	if len(lines) == 0 {
		lines = append(lines, tui.StyleMuted.Render("No projects."), tui.StyleMuted.Render("jean project add <path>"))
	}

	content := strings.Join(lines, "\n")
	return lipgloss.NewStyle().Width(treeWidth).Height(m.chatHeight() + 2).Render(content)
}

func (m Model) viewChat() string {
	wt := m.cloneSelectedWorktree()
	if wt == nil {
		return lipgloss.NewStyle().Width(m.chatWidth()).Render(tui.StyleMuted.Render("Select a worktree."))
	}

	var b strings.Builder
	b.WriteString(m.viewSessionTabs(wt))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	return lipgloss.NewStyle().Width(m.chatWidth()).Render(b.String())
}

func (m Model) viewSessionTabs(wt *entity.Worktree) string {
	sessions := m.eng.Store().Sessions(wt.ID)
	if len(sessions) == 0 {
		return tui.StyleMuted.Render("No sessions. [n] creates one.")
	}

	var tabs []string
	for i, sess := range sessions {
		label := sess.Name
		switch {
		case m.eng.Chat().State(sess.ID) == engine.StreamStreaming:
			label = m.spinner.View() + " " + label
		case sess.WaitingForInput:
			label = tui.StatusStyle("waiting").Render("?") + " " + label
		}
		if q := m.eng.Chat().QueueLen(sess.ID); q > 0 {
			label += fmt.Sprintf(" (+%d)", q)
		}
		if i == m.sessionSel {
			label = tui.StyleSelected.Render(" " + label + " ")
		} else {
			label = tui.StyleMuted.Render(" " + label + " ")
		}
		tabs = append(tabs, label)
	}
	return strings.Join(tabs, "│")
}

// refreshChat rebuilds the viewport transcript from the selected
// session's messages.
func (m *Model) refreshChat() {
	sess := m.cloneSelectedSession()
	if sess == nil {
		m.viewport.SetContent("")
		return
	}

	var b strings.Builder
	for _, msg := range sess.Messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderMessage(msg *entity.Message) string {
	var b strings.Builder
	switch msg.Role {
	case entity.RoleUser:
		b.WriteString(tui.StyleAccent.Render("you"))
		b.WriteString("\n")
		b.WriteString(tui.StyleNormal.Render(msg.Content))
		b.WriteString("\n")
	default:
		b.WriteString(tui.StyleHeader.Render("agent"))
		b.WriteString("\n")
		b.WriteString(m.renderAssistant(msg))
	}

	if msg.Cancelled {
		b.WriteString(tui.StyleMuted.Render("(cancelled)"))
		b.WriteString("\n")
	}
	if msg.StreamError != "" {
		b.WriteString(tui.StyleError.Render("error: " + msg.StreamError))
		b.WriteString("\n")
	}
	return b.String()
}

// renderAssistant walks the message blocks so tool calls appear where
// they happened in the stream.
func (m *Model) renderAssistant(msg *entity.Message) string {
	toolByID := make(map[string]entity.ToolCall, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		toolByID[tc.ID] = tc
	}

	var b strings.Builder
	blocks := msg.Blocks
	if len(blocks) == 0 && msg.Content != "" {
		blocks = []entity.ContentBlock{{Type: entity.BlockText, Text: msg.Content}}
	}
	for _, block := range blocks {
		switch block.Type {
		case entity.BlockText:
			b.WriteString(m.renderMarkdown(block.Text))
		case entity.BlockToolUse:
			tc := toolByID[block.ToolCallID]
			label := tc.Name
			if label == control.QuestionToolName {
				label = "question"
			}
			b.WriteString(tui.StyleMuted.Render(fmt.Sprintf("  ⚙ %s", label)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *Model) renderMarkdown(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.chatWidth()-2),
	)
	if err != nil {
		return text + "\n"
	}
	out, err := r.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

func (m Model) viewInput() string {
	if m.focus != focusInput {
		hint := "[enter] compose"
		if sess := m.cloneSelectedSession(); sess != nil && sess.WaitingForInput {
			hint = "[enter] answer the agent's question"
		}
		return tui.StyleMuted.Render(hint)
	}
	return m.input.View()
}

func (m Model) viewFooter() string {
	var parts []string
	parts = append(parts, "[tab] pane  [n] new  [a] archive  [x] cancel  [m] mode  [t] thinking  [q] quit")

	for _, n := range m.notices {
		style := tui.StyleMuted
		if n.Level == "error" {
			style = tui.StyleError
		}
		parts = append(parts, style.Render(n.Text))
	}
	return tui.StyleHelp.Render(strings.Join(parts, "  │  "))
}

func (m Model) viewConflict() string {
	c := m.conflict
	var b strings.Builder
	b.WriteString(tui.StyleTitle.Render("Path already exists"))
	b.WriteString("\n\n")
	b.WriteString(tui.StyleNormal.Render(c.conflict.Path))
	b.WriteString("\n\n")
	if c.conflict.ArchivedMatch != nil {
		b.WriteString("  [1] Restore archived worktree " + tui.StyleAccent.Render(c.conflict.ArchivedMatch.Worktree.Name) + "\n")
	} else {
		b.WriteString(tui.StyleMuted.Render("  [1] (no archived worktree matches this path)") + "\n")
	}
	b.WriteString("  [2] Import the directory as-is\n")
	b.WriteString(fmt.Sprintf("  [3] Create as %q instead\n", c.conflict.SuggestedName))
	b.WriteString("\n")
	b.WriteString(tui.StyleMuted.Render("  [esc] cancel"))
	return tui.StyleBorder.Render(b.String())
}

// cloneSelectedSession / cloneSelectedWorktree are read-only variants
// usable from value-receiver views.
func (m Model) cloneSelectedSession() *entity.Session {
	mm := m
	return mm.selectedSession()
}

func (m Model) cloneSelectedWorktree() *entity.Worktree {
	mm := m
	return mm.selectedWorktree()
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

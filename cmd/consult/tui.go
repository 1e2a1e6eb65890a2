package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/thaya-health/consult/conversation"
	"github.com/thaya-health/consult/engine"
	"github.com/thaya-health/consult/internal/types"
	"github.com/thaya-health/consult/notify"
)

const refreshInterval = 200 * time.Millisecond

// notice is a user-facing notification surfaced in the status bar.
type notice struct {
	kind    notify.Kind
	message string
}

var quickPrompts = []string{
	"Summarize the consultation so far",
	"What follow-up questions should I ask?",
	"List the key findings as bullet points",
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	recStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	connUpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	connDownStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	footerKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7")).Bold(true)
)

type mountDoneMsg struct{ err error }

type tickMsg struct{}

type clearNoticeMsg struct{ seq int }

// model is the root bubbletea model. All conversation state lives in
// the engine view; the model polls it on a short tick and renders.
type model struct {
	ctx     context.Context
	view    *engine.View
	notices <-chan notice

	input   textinput.Model
	answers viewport.Model
	spin    spinner.Model

	width  int
	height int

	mounted  bool
	mountErr string

	status     string
	statusKind notify.Kind
	statusSeq  int

	quickIndex int

	// cached view state, refreshed each tick
	msgs     []types.Message
	awaiting bool
	capture  types.CaptureState
	conn     types.ConnState
}

func newModel(ctx context.Context, view *engine.View, notices <-chan notice) model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Type a message, or ctrl+r to dictate"
	input.CharLimit = 4000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	answers := viewport.New(0, 0)

	return model{
		ctx:     ctx,
		view:    view,
		notices: notices,
		input:   input,
		answers: answers,
		spin:    sp,
		status:  "Connecting...",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.mountCmd(), m.spin.Tick, tick())
}

func (m model) mountCmd() tea.Cmd {
	return func() tea.Msg {
		return mountDoneMsg{err: m.view.Mount(m.ctx)}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func clearNoticeCmd(seq int) tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return clearNoticeMsg{seq: seq}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.answers.Width = msg.Width
		m.answers.Height = max(3, msg.Height-6)
		m.input.Width = max(20, msg.Width-4)
		m.refresh()
		return m, nil

	case mountDoneMsg:
		if msg.err != nil {
			m.mountErr = msg.err.Error()
			m.status = "Connection failed"
			m.statusKind = notify.KindError
			return m, nil
		}
		m.mounted = true
		m.status = ""
		m.refresh()
		m.answers.GotoBottom()
		return m, nil

	case tickMsg:
		wasLen := len(m.msgs)
		m.refresh()
		if len(m.msgs) != wasLen {
			m.answers.GotoBottom()
		}
		var cmds []tea.Cmd
		select {
		case n := <-m.notices:
			m.status = n.message
			m.statusKind = n.kind
			m.statusSeq++
			cmds = append(cmds, clearNoticeCmd(m.statusSeq))
		default:
		}
		cmds = append(cmds, tick())
		return m, tea.Batch(cmds...)

	case clearNoticeMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.answers, cmd = m.answers.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.view.Unmount()
		return m, tea.Quit

	case "enter":
		if m.capture != types.CaptureIdle {
			return m, nil
		}
		err := m.view.Submit(m.input.Value())
		if errors.Is(err, conversation.ErrTurnInFlight) {
			m.status = "Wait for the current answer to finish"
			m.statusKind = notify.KindError
			m.statusSeq++
			return m, clearNoticeCmd(m.statusSeq)
		}
		m.input.SetValue(m.view.Prompt())
		m.refresh()
		m.answers.GotoBottom()
		return m, nil

	case "ctrl+r":
		if m.capture == types.CaptureRecording {
			m.view.StopVoice()
		} else {
			m.view.StartVoice(m.ctx)
		}
		m.refresh()
		m.input.SetValue(m.view.Prompt())
		return m, nil

	case "ctrl+p":
		prompt := quickPrompts[m.quickIndex%len(quickPrompts)]
		m.quickIndex++
		if err := m.view.InsertQuickPrompt(prompt); err == nil {
			m.input.SetValue(prompt)
			m.input.CursorEnd()
		}
		return m, nil

	case "up", "down", "pgup", "pgdown":
		var cmd tea.Cmd
		m.answers, cmd = m.answers.Update(msg)
		return m, cmd
	}

	if m.capture != types.CaptureIdle {
		// The transcription owns the compose buffer during capture.
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if err := m.view.SetPrompt(m.input.Value()); err != nil {
		m.input.SetValue(m.view.Prompt())
	}
	return m, cmd
}

// refresh pulls the current conversation state out of the engine and
// rebuilds the viewport content.
func (m *model) refresh() {
	m.msgs = m.view.Messages()
	m.awaiting = m.view.AwaitingAnswer()
	m.capture = m.view.CaptureStatus()
	m.conn = m.view.ConnState()

	if m.capture != types.CaptureIdle {
		// Mirror the live transcription into the input line.
		m.input.SetValue(m.view.Prompt())
		m.input.CursorEnd()
	}

	m.answers.SetContent(m.renderMessages())
}

func (m model) renderMessages() string {
	if len(m.msgs) == 0 {
		return dimStyle.Render("  No messages yet. Say hello.")
	}

	width := max(20, m.answers.Width-4)
	body := lipgloss.NewStyle().Width(width)

	var b strings.Builder
	for i, msg := range m.msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		switch msg.Role {
		case types.RoleUser:
			b.WriteString(userStyle.Render("You"))
		default:
			b.WriteString(assistantStyle.Render("Assistant"))
		}
		b.WriteString("\n")

		content := msg.Content
		if content == "" && msg.Role == types.RoleAssistant {
			content = m.spin.View() + " thinking..."
		}
		b.WriteString(body.Render(content))
		b.WriteString("\n")

		for _, ref := range msg.References {
			line := "  - " + ref.DisplayName
			if ref.DownloadURL != "" {
				line += " (" + ref.DownloadURL + ")"
			}
			b.WriteString(dimStyle.Render(line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.answers.View())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, m.input.View())
	sections = append(sections, m.renderFooter())
	return strings.Join(sections, "\n")
}

func (m model) renderHeader() string {
	title := titleStyle.Render("CONSULT")

	var conn string
	switch m.conn {
	case types.ConnOpen:
		conn = connUpStyle.Render(" [online]")
	case types.ConnReconnecting:
		conn = connDownStyle.Render(" [reconnecting]")
	case types.ConnConnecting:
		conn = dimStyle.Render(" [connecting]")
	default:
		conn = dimStyle.Render(" [offline]")
	}
	return title + conn
}

func (m model) renderStatusBar() string {
	var parts []string

	switch m.capture {
	case types.CaptureRecording:
		parts = append(parts, recStyle.Render("* REC")+dimStyle.Render(" listening..."))
	case types.CaptureFinalizing:
		parts = append(parts, dimStyle.Render("finalizing..."))
	}

	if m.awaiting {
		parts = append(parts, m.spin.View()+dimStyle.Render("answering"))
	}

	if m.mountErr != "" {
		parts = append(parts, errorStyle.Render(m.mountErr))
	} else if m.status != "" {
		style := successStyle
		if m.statusKind == notify.KindError {
			style = errorStyle
		}
		parts = append(parts, style.Render(m.status))
	}

	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "  ")
}

func (m model) renderFooter() string {
	keys := []struct{ key, desc string }{
		{"Enter", "Send"},
		{"Ctrl+R", "Dictate"},
		{"Ctrl+P", "Quick prompt"},
		{"Esc", "Quit"},
	}

	var parts []string
	for _, k := range keys {
		parts = append(parts, footerKeyStyle.Render(k.key)+dimStyle.Render(" "+k.desc))
	}
	return strings.Join(parts, "  ")
}

// Package monitor is the full-screen live status view: agent states, the
// process update log, the crisis banner and an outgoing message box.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/mindgarden-dev/garden/internal/crisis"
	"github.com/mindgarden-dev/garden/internal/livestatus"
)

const (
	minWidth     = 40
	minHeight    = 12
	outboxLimit  = 3
	chromeHeight = 9
)

// Channel is the part of the live status channel the view drives.
type Channel interface {
	URL() string
	Connect(ctx context.Context) error
	Disconnect()
	SendMessage(ctx context.Context, text string)
	Snapshot() livestatus.Snapshot
}

// SnapshotMsg carries a fresh channel snapshot into the program.
type SnapshotMsg struct {
	Snapshot livestatus.Snapshot
}

// CrisisMsg carries a fresh crisis state into the program.
type CrisisMsg struct {
	State crisis.State
}

type connectedMsg struct{ err error }

type sentMsg struct {
	text      string
	delivered bool
}

type outgoing struct {
	text      string
	delivered bool
}

// Model is the bubbletea model of the monitor screen.
type Model struct {
	ctx    context.Context
	ch     Channel
	keys   keyMap
	styles styles

	input   textinput.Model
	updates viewport.Model

	snap    livestatus.Snapshot
	crisis  crisis.State
	outbox  []outgoing
	connErr error

	width, height int
	ready         bool
	quitting      bool
}

// New creates the monitor model. The program connects ch on start.
func New(ctx context.Context, ch Channel, initial crisis.State) *Model {
	input := textinput.New()
	input.Placeholder = "Message the support agents..."
	input.CharLimit = 500
	input.Prompt = "> "

	return &Model{
		ctx:     ctx,
		ch:      ch,
		keys:    defaultKeyMap(),
		styles:  defaultStyles(),
		input:   input,
		updates: viewport.New(minWidth, minHeight-chromeHeight),
		snap:    ch.Snapshot(),
		crisis:  initial,
		width:   minWidth,
		height:  minHeight,
	}
}

// Init starts the first connection attempt.
func (m *Model) Init() tea.Cmd {
	return m.connect()
}

func (m *Model) connect() tea.Cmd {
	return func() tea.Msg {
		return connectedMsg{err: m.ch.Connect(m.ctx)}
	}
}

func (m *Model) send(text string) tea.Cmd {
	delivered := m.snap.Connected

	return func() tea.Msg {
		m.ch.SendMessage(m.ctx, text)
		return sentMsg{text: text, delivered: delivered}
	}
}

// Update handles one message.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.ready = true

		return m, nil

	case SnapshotMsg:
		m.setSnapshot(msg.Snapshot)
		return m, nil

	case CrisisMsg:
		m.crisis = msg.State
		m.resize(m.width, m.height)

		return m, nil

	case connectedMsg:
		m.connErr = msg.err
		m.setSnapshot(m.ch.Snapshot())

		return m, nil

	case sentMsg:
		m.outbox = append(m.outbox, outgoing(msg))
		if len(m.outbox) > outboxLimit {
			m.outbox = m.outbox[len(m.outbox)-outboxLimit:]
		}

		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)

	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.ForceQuit) {
		m.quitting = true
		return m, tea.Quit
	}

	if m.input.Focused() {
		switch {
		case key.Matches(msg, m.keys.Blur):
			m.input.Blur()
			return m, nil
		case key.Matches(msg, m.keys.Send):
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}

			m.input.Reset()

			return m, m.send(text)
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)

		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Compose):
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.Reconnect):
		m.connErr = nil
		return m, m.connect()
	case key.Matches(msg, m.keys.Up):
		m.updates.ScrollUp(1)
	case key.Matches(msg, m.keys.Down):
		m.updates.ScrollDown(1)
	}

	return m, nil
}

func (m *Model) setSnapshot(snap livestatus.Snapshot) {
	follow := m.updates.AtBottom()
	agentsChanged := len(snap.AgentStatus) != len(m.snap.AgentStatus)
	m.snap = snap

	// Each agent takes a row above the update log.
	if agentsChanged {
		m.resize(m.width, m.height)
	} else {
		m.updates.SetContent(m.renderUpdates())
	}

	if follow {
		m.updates.GotoBottom()
	}
}

func (m *Model) resize(width, height int) {
	m.width = max(width, minWidth)
	m.height = max(height, minHeight)

	used := chromeHeight + len(m.snap.AgentStatus)
	if m.crisis.InCrisis {
		used += 2
	}

	m.updates.Width = m.width
	m.updates.Height = max(m.height-used, 3)
	m.input.Width = m.width - lipgloss.Width(m.input.Prompt) - 1
	m.updates.SetContent(m.renderUpdates())
}

func (m *Model) renderUpdates() string {
	if len(m.snap.Updates) == 0 {
		return m.styles.Muted.Render("No process updates yet.")
	}

	lines := make([]string, len(m.snap.Updates))
	for i, raw := range m.snap.Updates {
		lines[i] = FormatUpdate(raw, m.width)
	}

	return strings.Join(lines, "\n")
}

// View renders the screen.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.viewHeader())
	b.WriteString("\n")

	if m.crisis.InCrisis {
		b.WriteString(m.viewBanner())
		b.WriteString("\n\n")
	}

	b.WriteString(m.styles.Section.Render("Agents"))
	b.WriteString("\n")
	b.WriteString(m.viewAgents())
	b.WriteString("\n")

	b.WriteString(m.styles.Section.Render(fmt.Sprintf("Process updates (%d)", len(m.snap.Updates))))
	b.WriteString("\n")
	b.WriteString(m.updates.View())
	b.WriteString("\n\n")

	b.WriteString(m.viewOutbox())
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.viewHelp())

	return b.String()
}

func (m *Model) viewHeader() string {
	var status string

	switch m.snap.State {
	case livestatus.Connected:
		status = m.styles.Connected.Render("● live")
	case livestatus.Connecting:
		status = m.styles.Pending.Render("● connecting")
	default:
		status = m.styles.Offline.Render("● offline")
	}

	header := m.styles.Title.Render("MindGarden monitor") + "  " + status + "  " +
		m.styles.Muted.Render(ansi.Truncate(m.ch.URL(), max(m.width-36, 10), "…"))

	if m.connErr != nil {
		header += "\n" + m.styles.Error.Render(ansi.Truncate("Connection failed: "+m.connErr.Error(), m.width, "…")) +
			m.styles.Muted.Render("  press r to retry")
	}

	return header
}

func (m *Model) viewBanner() string {
	text := "In crisis? Call " + strings.Join(m.crisis.EmergencyContacts, " or ")
	if m.crisis.CrisisType != "" {
		text += " · " + m.crisis.CrisisType
	}

	if m.crisis.RiskScore > 0 {
		text += fmt.Sprintf(" · risk %.1f", m.crisis.RiskScore)
	}

	return m.styles.Banner.Render(ansi.Truncate(text, m.width-2, "…"))
}

func (m *Model) viewAgents() string {
	if len(m.snap.AgentStatus) == 0 {
		return m.styles.Muted.Render("No agent status reported.") + "\n"
	}

	names := make([]string, 0, len(m.snap.AgentStatus))
	for name := range m.snap.AgentStatus {
		names = append(names, name)
	}

	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		line := fmt.Sprintf("  %-20s %s", name, m.snap.AgentStatus[name])
		b.WriteString(ansi.Truncate(line, m.width, "…"))
		b.WriteString("\n")
	}

	return b.String()
}

func (m *Model) viewOutbox() string {
	var b strings.Builder

	for _, out := range m.outbox {
		line := "you: " + out.text
		if !out.delivered {
			line += " (not sent, offline)"
			b.WriteString(m.styles.Muted.Render(ansi.Truncate(line, m.width, "…")))
		} else {
			b.WriteString(ansi.Truncate(line, m.width, "…"))
		}

		b.WriteString("\n")
	}

	return b.String()
}

func (m *Model) viewHelp() string {
	bindings := []key.Binding{m.keys.Compose, m.keys.Reconnect, m.keys.Up, m.keys.Quit}
	if m.input.Focused() {
		bindings = []key.Binding{m.keys.Send, m.keys.Blur}
	}

	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, m.styles.HelpKey.Render("["+h.Key+"]")+" "+m.styles.Help.Render(h.Desc))
	}

	return strings.Join(parts, "  ")
}

// FormatUpdate renders one process update as a single line at most width
// cells wide.
func FormatUpdate(raw json.RawMessage, width int) string {
	var compact bytes.Buffer

	line := string(raw)
	if err := json.Compact(&compact, raw); err == nil {
		line = compact.String()
	}

	line = strings.ReplaceAll(line, "\n", " ")
	if width > 0 {
		line = ansi.Truncate(line, width, "…")
	}

	return line
}

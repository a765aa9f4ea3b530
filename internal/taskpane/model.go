package taskpane

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"
	"github.com/muesli/reflow/wordwrap"

	"github.com/zjrosen/sheetbind/internal/application"
	"github.com/zjrosen/sheetbind/internal/keys"
	"github.com/zjrosen/sheetbind/internal/log"
	"github.com/zjrosen/sheetbind/internal/pubsub"
)

// maxLogLines is how many log lines the log strip keeps.
const maxLogLines = 4

// Document is the part of a host document the viewer drives.
type Document interface {
	Worksheets() []string
	ActiveWorksheet() string
	ActivateWorksheet(ctx context.Context, name string) error
	Reload(ctx context.Context) (bool, error)
}

// actionDoneMsg reports the outcome of a document action started from a key.
type actionDoneMsg struct {
	err error
}

// Model is the Bubble Tea model of the task pane viewer.
type Model struct {
	ctx    context.Context
	doc    Document
	panes  *pubsub.ContinuousListener[application.TaskPaneChange]
	logs   *log.LogListener
	keys   keys.TaskPaneKeyMap
	help   help.Model
	width  int
	pane   *application.TaskPaneChange
	lines  []string
	err    error
	active string
	zones  string
}

// Option configures a Model.
type Option func(*Model)

// WithWidth sets the pane width.
func WithWidth(width int) Option {
	return func(m *Model) {
		m.width = width
	}
}

// WithLogListener shows the most recent log lines below the pane.
func WithLogListener(l *log.LogListener) Option {
	return func(m *Model) {
		m.logs = l
	}
}

// New creates the viewer. It subscribes to panes until ctx is cancelled.
func New(ctx context.Context, doc Document, panes *pubsub.Broker[application.TaskPaneChange], opts ...Option) Model {
	zone.NewGlobal()
	m := Model{
		ctx:    ctx,
		doc:    doc,
		panes:  pubsub.NewContinuousListener(ctx, panes),
		keys:   keys.TaskPane,
		help:   help.New(),
		width:  48,
		active: doc.ActiveWorksheet(),
		zones:  zone.NewPrefix(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init starts listening for panes and log lines.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.panes.Listen()}
	if m.logs != nil {
		cmds = append(cmds, m.logs.Listen())
	}
	return tea.Batch(cmds...)
}

// Update handles pane events, log lines and keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case pubsub.Event[application.TaskPaneChange]:
		change := msg.Payload
		m.pane = &change
		return m, m.panes.Listen()

	case pubsub.Event[string]:
		m.lines = append(m.lines, strings.TrimRight(msg.Payload, "\n"))
		if len(m.lines) > maxLogLines {
			m.lines = m.lines[len(m.lines)-maxLogLines:]
		}
		if m.logs == nil {
			return m, nil
		}
		return m, m.logs.Listen()

	case actionDoneMsg:
		m.err = msg.err
		m.active = m.doc.ActiveWorksheet()
		return m, nil

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case tea.MouseMsg:
		if msg.Button != tea.MouseButtonLeft || msg.Action != tea.MouseActionRelease {
			return m, nil
		}
		for _, s := range m.doc.Worksheets() {
			if z := zone.Get(m.tabZone(s)); z != nil && z.InBounds(msg) {
				return m, m.activate(s)
			}
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.NextSheet):
			return m, m.cycle(1)
		case key.Matches(msg, m.keys.PrevSheet):
			return m, m.cycle(-1)
		case key.Matches(msg, m.keys.Reload):
			return m, m.reload()
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		}
	}
	return m, nil
}

// cycle activates the worksheet step positions away from the active one.
func (m Model) cycle(step int) tea.Cmd {
	sheets := m.doc.Worksheets()
	if len(sheets) == 0 {
		return nil
	}
	idx := 0
	for i, s := range sheets {
		if s == m.doc.ActiveWorksheet() {
			idx = i
			break
		}
	}
	return m.activate(sheets[((idx+step)%len(sheets)+len(sheets))%len(sheets)])
}

func (m Model) activate(sheet string) tea.Cmd {
	ctx, doc := m.ctx, m.doc
	return func() tea.Msg {
		return actionDoneMsg{err: doc.ActivateWorksheet(ctx, sheet)}
	}
}

func (m Model) reload() tea.Cmd {
	ctx, doc := m.ctx, m.doc
	return func() tea.Msg {
		_, err := doc.Reload(ctx)
		return actionDoneMsg{err: err}
	}
}

// View renders the sheet tabs, the current pane, the log strip and help.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.tabs())
	b.WriteString("\n")

	if m.pane == nil {
		b.WriteString(lipgloss.NewStyle().Foreground(MutedColor).Render("waiting for a task pane..."))
	} else {
		b.WriteString(Render(*m.pane, m.width))
	}
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(lipgloss.NewStyle().Foreground(ErrorColor).Render(wordwrap.String(m.err.Error(), m.width)))
		b.WriteString("\n")
	}
	if len(m.lines) > 0 {
		muted := lipgloss.NewStyle().Foreground(MutedColor).MaxWidth(m.width)
		for _, line := range m.lines {
			b.WriteString(muted.Render(line))
			b.WriteString("\n")
		}
		if m.logs != nil {
			if n := m.logs.Dropped(); n > 0 {
				b.WriteString(muted.Render(fmt.Sprintf("(%d log lines dropped)", n)))
				b.WriteString("\n")
			}
		}
	}

	b.WriteString(m.help.View(m.keys))
	return zone.Scan(b.String())
}

func (m Model) tabs() string {
	activeStyle := lipgloss.NewStyle().Bold(true).Foreground(ActiveTabColor)
	inactiveStyle := lipgloss.NewStyle().Foreground(MutedColor)

	sheets := m.doc.Worksheets()
	parts := make([]string, len(sheets))
	for i, s := range sheets {
		if s == m.active {
			parts[i] = zone.Mark(m.tabZone(s), activeStyle.Render("["+s+"]"))
		} else {
			parts[i] = zone.Mark(m.tabZone(s), inactiveStyle.Render(" "+s+" "))
		}
	}
	return strings.Join(parts, " ")
}

// tabZone is the click zone of a worksheet tab.
func (m Model) tabZone(sheet string) string {
	return m.zones + "tab:" + sheet
}

// Pane returns the last pane received, if any.
func (m Model) Pane() (application.TaskPaneChange, bool) {
	if m.pane == nil {
		return application.TaskPaneChange{}, false
	}
	return *m.pane, true
}

// Err returns the error of the last document action.
func (m Model) Err() error {
	return m.err
}

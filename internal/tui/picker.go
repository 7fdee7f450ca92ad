// Package tui provides terminal user interface components for vncgate
package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/health"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/registry"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/relay"
)

// Action represents the action to take after picker selection
type Action int

const (
	ActionNone Action = iota
	ActionEvents
	ActionProbe
	ActionQuit
)

// PickerResult holds the result of the picker
type PickerResult struct {
	Action  Action
	Session *relay.SessionView
}

// sessionItem implements list.Item for session display
type sessionItem struct {
	view relay.SessionView
}

func (i sessionItem) Title() string {
	return i.view.Key
}

func (i sessionItem) Description() string {
	return fmt.Sprintf("%s %s | %s | %s | %s",
		statusIcon(i.view.Health),
		geometry(i.view),
		viewers(i.view.Viewers),
		health.Age(i.view.UpdatedAt),
		truncatePath(i.view.Target.String(), 30),
	)
}

func (i sessionItem) FilterValue() string {
	return i.view.Key
}

func statusIcon(s health.Status) string {
	switch s {
	case health.StatusHealthy:
		return "✓"
	case health.StatusProtocolError:
		return "⚠"
	case health.StatusUnreachable:
		return "✗"
	}
	return "●"
}

func geometry(v relay.SessionView) string {
	if v.Geometry == nil {
		return "-"
	}
	return fmt.Sprintf("%dx%d", v.Geometry.Width, v.Geometry.Height)
}

func viewers(n int) string {
	if n == 1 {
		return "1 viewer"
	}
	return fmt.Sprintf("%d viewers", n)
}

func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// Model is the bubbletea model for the session picker
type Model struct {
	list     list.Model
	result   PickerResult
	quitting bool
	width    int
	height   int
}

// NewPicker creates a session picker grouped by state.
func NewPicker(sessions []relay.SessionView) Model {
	items := buildGroupedItems(sessions)

	l := list.New(items, newGroupedDelegate(), 80, 20)
	l.Title = "vncgate - Select Session"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	skipHeaders(&l, 1)

	return Model{list: l}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}

		switch msg.String() {
		case "enter":
			return m.choose(ActionEvents)

		case "p":
			return m.choose(ActionProbe)

		case "q", "esc":
			m.result = PickerResult{Action: ActionQuit}
			m.quitting = true
			return m, tea.Quit

		case "up", "k", "down", "j":
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			skipHeaders(&m.list, navigationDirection(msg))
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) choose(action Action) (tea.Model, tea.Cmd) {
	item, ok := m.list.SelectedItem().(sessionItem)
	if !ok {
		return m, nil
	}
	view := item.view
	m.result = PickerResult{Action: action, Session: &view}
	m.quitting = true
	return m, tea.Quit
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	help := helpStyle.Render("[enter] Events  [p] Probe  [/] Filter  [q] Quit")

	return m.list.View() + "\n" + help
}

// Result returns the picker result
func (m Model) Result() PickerResult {
	return m.result
}

// RunPicker runs the interactive session picker
func RunPicker(sessions []relay.SessionView) (PickerResult, error) {
	if len(sessions) == 0 {
		return PickerResult{Action: ActionQuit}, nil
	}

	m := NewPicker(sessions)
	p := tea.NewProgram(m, tea.WithAltScreen())

	finalModel, err := p.Run()
	if err != nil {
		return PickerResult{}, err
	}

	return finalModel.(Model).Result(), nil
}

// RenderSessions writes a non-interactive session listing to w.
func RenderSessions(w io.Writer, sessions []relay.SessionView) {
	var sb strings.Builder

	sb.WriteString("vncgate - Sessions\n")
	sb.WriteString(strings.Repeat("─", 60) + "\n\n")

	if len(sessions) == 0 {
		sb.WriteString("No sessions found.\n")
		sb.WriteString("Sessions appear once a viewer connects.\n")
		fmt.Fprint(w, sb.String())
		return
	}

	for i, s := range sortSessions(sessions) {
		fmt.Fprintf(&sb, "%d. %s %s (%s)\n", i+1, statusIcon(s.Health), s.Key, s.State)
		fmt.Fprintf(&sb, "   Target: %s | %s | %s | attempts %d\n",
			truncatePath(s.Target.String(), 40), geometry(s), viewers(s.Viewers), s.Attempts)
		if s.State == registry.StateFailed && s.LastError != "" {
			fmt.Fprintf(&sb, "   Error: %s\n", s.LastError)
		}
		sb.WriteString("\n")
	}

	fmt.Fprint(w, sb.String())
}

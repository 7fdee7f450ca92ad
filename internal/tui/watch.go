package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/health"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/registry"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/relay"
)

// DefaultWatchInterval is how often the watch view polls the admin API.
const DefaultWatchInterval = 2 * time.Second

// Source supplies the data shown by the watch view.
type Source interface {
	Health(ctx context.Context) (relay.HealthView, error)
	Sessions(ctx context.Context) ([]relay.SessionView, error)
}

type snapshotMsg struct {
	health    relay.HealthView
	sessions  []relay.SessionView
	err       error
	at        time.Time
	scheduled bool
}

type tickMsg time.Time

var watchColumns = []table.Column{
	{Title: "KEY", Width: 16},
	{Title: "STATE", Width: 13},
	{Title: "HEALTH", Width: 16},
	{Title: "VIEWERS", Width: 7},
	{Title: "GEOMETRY", Width: 10},
	{Title: "TARGET", Width: 32},
	{Title: "TRIES", Width: 5},
	{Title: "AGE", Width: 8},
}

// WatchModel is a live view of sessions that polls a Source.
type WatchModel struct {
	src      Source
	interval time.Duration
	table    table.Model

	health   relay.HealthView
	sessions []relay.SessionView
	err      error
	updated  time.Time
	quitting bool
}

// NewWatch creates a watch view polling src every interval.
func NewWatch(src Source, interval time.Duration) WatchModel {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	t := table.New(
		table.WithColumns(watchColumns),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	styles := table.DefaultStyles()
	styles.Selected = selectedStyle
	styles.Header = styles.Header.Bold(true)
	t.SetStyles(styles)

	return WatchModel{src: src, interval: interval, table: t}
}

func (m WatchModel) Init() tea.Cmd {
	return m.fetch(true)
}

// fetch polls the source. Only scheduled fetches arm the next tick so a
// manual refresh does not start a second polling loop.
func (m WatchModel) fetch(scheduled bool) tea.Cmd {
	src, timeout := m.src, m.interval
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		msg := snapshotMsg{at: time.Now(), scheduled: scheduled}
		msg.health, msg.err = src.Health(ctx)
		if msg.err == nil {
			msg.sessions, msg.err = src.Sessions(ctx)
		}
		return msg
	}
}

func (m WatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		if h := msg.Height - 8; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case snapshotMsg:
		m.updated = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.health = msg.health
			m.sessions = sortSessions(msg.sessions)
			m.table.SetRows(sessionRows(m.sessions))
		}
		if msg.scheduled {
			return m, m.tick()
		}
		return m, nil

	case tickMsg:
		return m, m.fetch(true)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.fetch(false)
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("vncgate - Sessions"))
	sb.WriteString("\n")
	sb.WriteString(summary(m.health))
	sb.WriteString("\n\n")
	sb.WriteString(m.table.View())
	sb.WriteString("\n")
	if m.err != nil {
		sb.WriteString(errorStyle.Render("✗ " + m.err.Error()))
		sb.WriteString("\n")
	}

	updated := "never"
	if !m.updated.IsZero() {
		updated = m.updated.Format("15:04:05")
	}
	sb.WriteString(helpStyle.Render(fmt.Sprintf("updated %s  [r] Refresh  [q] Quit", updated)))
	return sb.String()
}

// Selected returns the session under the cursor.
func (m WatchModel) Selected() (relay.SessionView, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.sessions) {
		return relay.SessionView{}, false
	}
	return m.sessions[i], true
}

func summary(h relay.HealthView) string {
	if h.Status == "" {
		return "connecting..."
	}
	return fmt.Sprintf("%s | %d ready | %d provisioning | %d failed | %d connections",
		h.Status,
		h.Sessions[registry.StateReady],
		h.Sessions[registry.StateProvisioning],
		h.Sessions[registry.StateFailed],
		h.Connections,
	)
}

func sessionRows(sessions []relay.SessionView) []table.Row {
	rows := make([]table.Row, len(sessions))
	for i, s := range sessions {
		status := s.Health
		if status == "" {
			status = health.StatusUnknown
		}
		rows[i] = table.Row{
			s.Key,
			string(s.State),
			statusIcon(status) + " " + string(status),
			strconv.Itoa(s.Viewers),
			geometry(s),
			truncatePath(s.Target.String(), 32),
			strconv.Itoa(s.Attempts),
			health.Age(s.CreatedAt),
		}
	}
	return rows
}

// RunWatch runs the live session view until the user quits.
func RunWatch(src Source, interval time.Duration) error {
	p := tea.NewProgram(NewWatch(src, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TokenRequest holds the claims collected by the token wizard.
type TokenRequest struct {
	Subject   string
	MeetingID string
	TTL       time.Duration
}

type wizardField int

const (
	fieldSubject wizardField = iota
	fieldMeeting
	fieldTTL
	fieldCount
)

var fieldLabels = [fieldCount]string{
	fieldSubject: "Subject",
	fieldMeeting: "Meeting ID (optional)",
	fieldTTL:     "Lifetime",
}

var (
	wizardLabelStyle = lipgloss.NewStyle().Bold(true)

	wizardActiveLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39"))
)

// wizardModel collects token claims field by field.
type wizardModel struct {
	inputs [fieldCount]textinput.Model
	cursor wizardField
	err    string
	result *TokenRequest
	done   bool
}

func newWizardModel(initial TokenRequest) wizardModel {
	var w wizardModel
	placeholders := [fieldCount]string{"alice", "meeting-id", "1h"}
	values := [fieldCount]string{initial.Subject, initial.MeetingID, ""}
	if initial.TTL > 0 {
		values[fieldTTL] = initial.TTL.String()
	}
	for i := range w.inputs {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = 256
		ti.Width = 40
		ti.SetValue(values[i])
		w.inputs[i] = ti
	}
	w.inputs[fieldSubject].Focus()
	return w
}

func (w wizardModel) Init() tea.Cmd {
	return textinput.Blink
}

func (w wizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			w.done = true
			return w, tea.Quit
		case tea.KeyUp, tea.KeyShiftTab:
			return w, w.focus((w.cursor - 1 + fieldCount) % fieldCount)
		case tea.KeyDown, tea.KeyTab:
			return w, w.focus((w.cursor + 1) % fieldCount)
		case tea.KeyEnter:
			if w.cursor < fieldCount-1 {
				return w, w.focus(w.cursor + 1)
			}
			req, err := w.request()
			if err != nil {
				w.err = err.Error()
				return w, nil
			}
			w.result = &req
			w.done = true
			return w, tea.Quit
		}
	}

	var cmd tea.Cmd
	w.inputs[w.cursor], cmd = w.inputs[w.cursor].Update(msg)
	return w, cmd
}

func (w *wizardModel) focus(f wizardField) tea.Cmd {
	w.inputs[w.cursor].Blur()
	w.cursor = f
	w.inputs[f].Focus()
	return textinput.Blink
}

// request validates the form.
func (w wizardModel) request() (TokenRequest, error) {
	req := TokenRequest{
		Subject:   strings.TrimSpace(w.inputs[fieldSubject].Value()),
		MeetingID: strings.TrimSpace(w.inputs[fieldMeeting].Value()),
		TTL:       time.Hour,
	}
	if req.Subject == "" {
		return req, fmt.Errorf("subject is required")
	}
	if raw := strings.TrimSpace(w.inputs[fieldTTL].Value()); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return req, fmt.Errorf("invalid lifetime %q", raw)
		}
		if ttl <= 0 {
			return req, fmt.Errorf("lifetime must be positive")
		}
		req.TTL = ttl
	}
	return req, nil
}

func (w wizardModel) View() string {
	if w.done {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("vncgate - Issue Token"))
	sb.WriteString("\n")
	for i := range w.inputs {
		style := wizardLabelStyle
		if wizardField(i) == w.cursor {
			style = wizardActiveLabelStyle
		}
		sb.WriteString(style.Render(fieldLabels[i]))
		sb.WriteString("\n")
		sb.WriteString(w.inputs[i].View())
		sb.WriteString("\n\n")
	}
	if w.err != "" {
		sb.WriteString(errorStyle.Render(w.err))
		sb.WriteString("\n")
	}
	sb.WriteString(helpStyle.Render("[tab] Next  [enter] Confirm  [esc] Cancel"))
	return sb.String()
}

// RunTokenWizard prompts for token claims, starting from initial. It
// returns nil if the user cancels.
func RunTokenWizard(initial TokenRequest) (*TokenRequest, error) {
	p := tea.NewProgram(newWizardModel(initial))
	finalModel, err := p.Run()
	if err != nil {
		return nil, err
	}
	return finalModel.(wizardModel).result, nil
}

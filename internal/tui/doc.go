// Package tui provides terminal user interface components for vncgate.
//
// This package uses the Bubble Tea framework for the operator views of a
// running relay. All data comes from the admin API.
//
// # Watch
//
// The watch view polls the admin API and shows one row per session:
//
//	client := adminclient.New(":6081", nil)
//	err := tui.RunWatch(client, tui.DefaultWatchInterval)
//
// Keys: r refreshes immediately, q or esc quits.
//
// # Session Picker
//
// The picker lists sessions grouped by state and returns the chosen one:
//
//	result, err := tui.RunPicker(sessions)
//	switch result.Action {
//	case tui.ActionEvents:
//	    // Show audit events for result.Session.Key
//	case tui.ActionProbe:
//	    // Probe result.Session.Target
//	case tui.ActionQuit:
//	    // Exit
//	}
//
// RenderSessions prints the same listing without a terminal.
//
// # Token Wizard
//
// RunTokenWizard prompts for the subject, meeting ID and lifetime of a
// token when they were not given on the command line.
//
// # Dependencies
//
// Uses the Charm libraries:
//   - github.com/charmbracelet/bubbletea - TUI framework
//   - github.com/charmbracelet/bubbles - UI components
//   - github.com/charmbracelet/lipgloss - Styling
package tui

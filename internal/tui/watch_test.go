package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/registry"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/relay"
)

type fakeSource struct {
	mu       sync.Mutex
	sessions []relay.SessionView
	err      error
	calls    int
}

func (f *fakeSource) Health(context.Context) (relay.HealthView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return relay.HealthView{}, f.err
	}
	counts := make(map[registry.State]int)
	for _, s := range f.sessions {
		counts[s.State]++
	}
	return relay.HealthView{Status: "ok", Sessions: counts, Connections: 3}, nil
}

func (f *fakeSource) Sessions(context.Context) ([]relay.SessionView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions, f.err
}

// step feeds msg to m and runs the returned command once.
func step(t *testing.T, m WatchModel, msg tea.Msg) (WatchModel, tea.Msg) {
	t.Helper()
	updated, cmd := m.Update(msg)
	if cmd == nil {
		return updated.(WatchModel), nil
	}
	return updated.(WatchModel), cmd()
}

func TestWatchPolls(t *testing.T) {
	src := &fakeSource{sessions: []relay.SessionView{
		testSession("carol", registry.StateFailed),
		testSession("bob", registry.StateReady),
	}}
	m := NewWatch(src, time.Millisecond)

	msg := m.Init()()
	snap, ok := msg.(snapshotMsg)
	if !ok {
		t.Fatalf("Init command returned %T, want snapshotMsg", msg)
	}
	if !snap.scheduled {
		t.Error("initial fetch should be scheduled")
	}

	m, next := step(t, m, snap)
	if _, ok := next.(tickMsg); !ok {
		t.Fatalf("scheduled snapshot should arm a tick, got %T", next)
	}

	rows := m.table.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "bob" || rows[1][0] != "carol" {
		t.Errorf("rows not ordered by state: %v", rows)
	}
	if rows[0][2] != "✓ healthy" {
		t.Errorf("health column = %q", rows[0][2])
	}

	sel, ok := m.Selected()
	if !ok || sel.Key != "bob" {
		t.Errorf("Selected() = %q, %v; want bob", sel.Key, ok)
	}

	view := m.View()
	for _, want := range []string{"ok | 1 ready | 0 provisioning | 1 failed | 3 connections", "[r] Refresh"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}

	_, again := step(t, m, next)
	if s, ok := again.(snapshotMsg); !ok || !s.scheduled {
		t.Errorf("tick should trigger a scheduled fetch, got %T", again)
	}
}

func TestWatchManualRefresh(t *testing.T) {
	src := &fakeSource{}
	m := NewWatch(src, time.Hour)

	m, msg := step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	snap, ok := msg.(snapshotMsg)
	if !ok {
		t.Fatalf("refresh returned %T, want snapshotMsg", msg)
	}
	if snap.scheduled {
		t.Error("manual refresh should not be scheduled")
	}

	_, next := step(t, m, snap)
	if next != nil {
		t.Errorf("manual snapshot should not arm a tick, got %T", next)
	}
}

func TestWatchKeepsRowsOnError(t *testing.T) {
	src := &fakeSource{sessions: []relay.SessionView{testSession("bob", registry.StateReady)}}
	m := NewWatch(src, time.Hour)
	m, _ = step(t, m, m.Init()())

	src.mu.Lock()
	src.err = errors.New("connection refused")
	src.mu.Unlock()

	m, _ = step(t, m, m.fetch(true)())
	if len(m.table.Rows()) != 1 {
		t.Errorf("rows should survive a failed poll, got %d", len(m.table.Rows()))
	}
	if !strings.Contains(m.View(), "connection refused") {
		t.Error("View should show the poll error")
	}
}

func TestWatchQuit(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	} {
		t.Run(key.String(), func(t *testing.T) {
			m := NewWatch(&fakeSource{}, time.Second)
			updated, cmd := m.Update(key)
			if cmd == nil {
				t.Fatal("expected quit command")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Error("expected tea.QuitMsg")
			}
			if updated.(WatchModel).View() != "" {
				t.Error("View after quit should be empty")
			}
		})
	}
}

func TestWatchDefaults(t *testing.T) {
	m := NewWatch(&fakeSource{}, 0)
	if m.interval != DefaultWatchInterval {
		t.Errorf("interval = %v, want %v", m.interval, DefaultWatchInterval)
	}
	if !strings.Contains(m.View(), "connecting...") {
		t.Error("View before first poll should say connecting")
	}
	if _, ok := m.Selected(); ok {
		t.Error("Selected() should be false with no rows")
	}
}

package audit

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLogger_LogAndEvents(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)

	now := time.Now().Truncate(time.Millisecond)

	events := []Event{
		{Timestamp: now, Type: EventProvision, Key: "bob", Target: "unix:///run/vnc/bob"},
		{Timestamp: now.Add(time.Second), Type: EventReady, Key: "bob", Target: "unix:///run/vnc/bob"},
		{Timestamp: now.Add(2 * time.Second), Type: EventConnect, Key: "bob", Subject: "bob", ConnID: "c1"},
		{Timestamp: now.Add(3 * time.Second), Type: EventDisconnect, Key: "bob", ConnID: "c1", BytesIn: 10, BytesOut: 2048},
	}

	for _, e := range events {
		if err := logger.Log(e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	result, err := logger.Events("bob")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}

	if len(result) != len(events) {
		t.Fatalf("got %d events, want %d", len(result), len(events))
	}

	for i, e := range result {
		if e.Type != events[i].Type {
			t.Errorf("event %d: type = %q, want %q", i, e.Type, events[i].Type)
		}
		if e.Key != events[i].Key {
			t.Errorf("event %d: key = %q, want %q", i, e.Key, events[i].Key)
		}
		if e.BytesOut != events[i].BytesOut {
			t.Errorf("event %d: bytesOut = %d, want %d", i, e.BytesOut, events[i].BytesOut)
		}
	}
}

func TestLogger_EventsEmpty(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)

	result, err := logger.Events("nonexistent")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}

	if len(result) != 0 {
		t.Errorf("got %d events, want 0", len(result))
	}
}

func TestLogger_LogEvent(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)

	if err := logger.LogEvent(EventFailed, "m1", "spawn failed"); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	events, err := logger.Events("m1")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	e := events[0]
	if e.Type != EventFailed {
		t.Errorf("type = %q, want %q", e.Type, EventFailed)
	}
	if e.Details != "spawn failed" {
		t.Errorf("details = %q, want %q", e.Details, "spawn failed")
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp should be set automatically")
	}
}

func TestLogger_DirectKey(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)

	if err := logger.Log(Event{Type: EventConnect, Subject: "alice"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	events, err := logger.Events(DirectKey)
	if err != nil || len(events) != 1 {
		t.Fatalf("Events(DirectKey) = %v, %v", events, err)
	}
}

func TestLogger_ConfinedToStateDir(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)

	if err := logger.LogEvent(EventReady, "../../escape", ""); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	// Nothing may be written outside the sessions directory.
	var outside []string
	_ = filepath.Walk(filepath.Dir(dir), func(path string, info os.FileInfo, err error) error {
		if err == nil && strings.HasSuffix(path, ".events.jsonl") && !strings.HasPrefix(path, filepath.Join(dir, "sessions")) {
			outside = append(outside, path)
		}
		return nil
	})
	if len(outside) != 0 {
		t.Errorf("audit log escaped state dir: %v", outside)
	}
}

func TestLogger_Remove(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)

	_ = logger.LogEvent(EventProvision, "removable", "")

	if err := logger.Remove("removable"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	events, err := logger.Events("removable")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events after remove, want 0", len(events))
	}
}

func TestLogger_RemoveNonexistent(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)

	if err := logger.Remove("nonexistent"); err != nil {
		t.Errorf("Remove should not error for nonexistent: %v", err)
	}
}

func TestLogger_ConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = logger.LogEvent(EventConnect, "shared", strings.Repeat("x", 512))
		}()
	}
	wg.Wait()

	events, err := logger.Events("shared")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 20 {
		t.Errorf("got %d events, want 20", len(events))
	}
}

func TestLogger_EventOrder(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)

	base := time.Now()
	for i := 0; i < 5; i++ {
		_ = logger.Log(Event{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Type:      EventConnect,
			Key:       "order-test",
			Details:   string(rune('A' + i)),
		})
	}

	events, _ := logger.Events("order-test")
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}

	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Errorf("event %d timestamp before event %d", i, i-1)
		}
	}
}

func TestDiscard(t *testing.T) {
	if err := Discard.Log(Event{Type: EventReady}); err != nil {
		t.Errorf("Discard.Log = %v", err)
	}
}

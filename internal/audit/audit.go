// Package audit records session lifecycle and relay events.
// Events are stored as JSON Lines (JSONL) files, one per provisioning key.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// EventType classifies an audit event.
type EventType string

const (
	EventProvision  EventType = "provision"
	EventReady      EventType = "ready"
	EventFailed     EventType = "failed"
	EventAdopt      EventType = "adopt"
	EventInvalidate EventType = "invalidate"
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
	EventReject     EventType = "reject"
	EventHealth     EventType = "health"
)

// DirectKey is the log that direct-routed connections are recorded under.
const DirectKey = "_direct"

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Key       string    `json:"key"`
	Subject   string    `json:"subject,omitempty"`
	ConnID    string    `json:"connID,omitempty"`
	Target    string    `json:"target,omitempty"`
	BytesIn   int64     `json:"bytesIn,omitempty"`
	BytesOut  int64     `json:"bytesOut,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// Recorder accepts audit events.
type Recorder interface {
	Log(event Event) error
}

// Discard is a Recorder that drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Log(Event) error { return nil }

// Logger writes and reads audit events.
// Events are stored in {stateDir}/sessions/{key}.events.jsonl.
type Logger struct {
	stateDir string
	mu       sync.Mutex
}

// NewLogger creates a new audit logger rooted at stateDir.
func NewLogger(stateDir string) *Logger {
	return &Logger{stateDir: stateDir}
}

// eventPath returns the path to the JSONL event log for a key. Keys come
// from identity mappings, so the path is confined to the sessions dir.
func (l *Logger) eventPath(key string) (string, error) {
	if key == "" {
		key = DirectKey
	}
	return securejoin.SecureJoin(filepath.Join(l.stateDir, "sessions"), key+".events.jsonl")
}

// Log appends an event to the key's audit log.
func (l *Logger) Log(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	path, err := l.eventPath(event.Key)
	if err != nil {
		return fmt.Errorf("invalid audit key %q: %w", event.Key, err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// LogEvent is a convenience method that creates and logs an event.
func (l *Logger) LogEvent(eventType EventType, key, details string) error {
	return l.Log(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Key:       key,
		Details:   details,
	})
}

// Events reads all events for a key in chronological order.
func (l *Logger) Events(key string) ([]Event, error) {
	path, err := l.eventPath(key)
	if err != nil {
		return nil, fmt.Errorf("invalid audit key %q: %w", key, err)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue // Skip malformed lines
		}
		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("error reading audit log: %w", err)
	}

	return events, nil
}

// Remove deletes the audit log for a key.
func (l *Logger) Remove(key string) error {
	path, err := l.eventPath(key)
	if err != nil {
		return fmt.Errorf("invalid audit key %q: %w", key, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

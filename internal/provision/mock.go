package provision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// MockBackend is an in-memory Backend for tests. Spawned desktops appear
// after AppearAfter unless NeverAppear is set.
type MockBackend struct {
	mu sync.Mutex

	// Targets maps keys to locations. Unmapped keys locate to
	// unix:///run/vnc/<key>.
	Targets map[string]target.Target

	// Running holds targets that Exists reports as reachable.
	Running map[target.Target]bool

	// Accounts holds created accounts.
	Accounts map[string]bool

	AppearAfter time.Duration
	NeverAppear bool
	SpawnDelay  time.Duration

	// Error injection
	LocateErr  error
	AccountErr error
	SpawnErr   error
	GrantErr   error

	// CallLog records all method calls for verification
	CallLog []MockCall

	spawns int
}

// MockCall represents a recorded method call
type MockCall struct {
	Method string
	Arg    string
}

// NewMockBackend creates a new mock backend
func NewMockBackend() *MockBackend {
	return &MockBackend{
		Targets:  make(map[string]target.Target),
		Running:  make(map[target.Target]bool),
		Accounts: make(map[string]bool),
	}
}

func (m *MockBackend) record(method, arg string) {
	m.CallLog = append(m.CallLog, MockCall{Method: method, Arg: arg})
}

// Name implements Backend.
func (m *MockBackend) Name() string { return "mock" }

// Locate implements Backend.
func (m *MockBackend) Locate(key string) (target.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Locate", key)
	if m.LocateErr != nil {
		return target.Target{}, m.LocateErr
	}
	if t, ok := m.Targets[key]; ok {
		return t, nil
	}
	return target.Local("/run/vnc/" + key), nil
}

// Exists implements Backend.
func (m *MockBackend) Exists(_ context.Context, t target.Target) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Running[t]
}

// EnsureAccount implements Backend.
func (m *MockBackend) EnsureAccount(_ context.Context, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("EnsureAccount", account)
	if m.AccountErr != nil {
		return m.AccountErr
	}
	m.Accounts[account] = true
	return nil
}

// Spawn implements Backend.
func (m *MockBackend) Spawn(ctx context.Context, req SpawnRequest) error {
	m.mu.Lock()
	m.record("Spawn", fmt.Sprintf("%s viewOnly=%t", req.Key, req.ViewOnly))
	m.spawns++
	spawnErr := m.SpawnErr
	delay := m.SpawnDelay
	appear := m.AppearAfter
	never := m.NeverAppear
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if spawnErr != nil {
		return spawnErr
	}
	if never {
		return nil
	}
	if appear <= 0 {
		m.SetRunning(req.Target, true)
		return nil
	}
	time.AfterFunc(appear, func() { m.SetRunning(req.Target, true) })
	return nil
}

// Grant implements Backend.
func (m *MockBackend) Grant(_ context.Context, req SpawnRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Grant", req.Key)
	return m.GrantErr
}

// SetRunning marks t reachable or not.
func (m *MockBackend) SetRunning(t target.Target, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if running {
		m.Running[t] = true
	} else {
		delete(m.Running, t)
	}
}

// SpawnCount returns how many times Spawn was called.
func (m *MockBackend) SpawnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spawns
}

// Calls returns recorded calls for method.
func (m *MockBackend) Calls(method string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockCall
	for _, c := range m.CallLog {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// SetSpawnErr sets the error returned by Spawn.
func (m *MockBackend) SetSpawnErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SpawnErr = err
}

var _ Backend = (*MockBackend)(nil)

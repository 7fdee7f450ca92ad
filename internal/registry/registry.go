// Package registry tracks provisioned desktop sessions by key.
//
// The registry holds one Record per provisioning key and a per-key gate
// that serializes provisioning transitions. Reads take a shared lock, so
// the ready fast path never waits behind a provisioning key.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// State is the lifecycle state of a session.
type State string

const (
	StateUnprovisioned State = "unprovisioned"
	StateProvisioning  State = "provisioning"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

// Record describes one session. Records returned by the registry are
// copies; mutate state through the registry's transition methods.
type Record struct {
	Key       string        `json:"key"`
	Target    target.Target `json:"target"`
	State     State         `json:"state"`
	ViewOnly  bool          `json:"viewOnly"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"lastError,omitempty"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record

	gateMu sync.Mutex
	gates  map[string]chan struct{}

	now func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		gates:   make(map[string]chan struct{}),
		now:     time.Now,
	}
}

// Get returns a copy of the record for key.
func (r *Registry) Get(key string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	if !ok {
		return Record{Key: key, State: StateUnprovisioned}, false
	}
	return *rec, true
}

// ReadyTarget returns the target of a Ready record.
func (r *Registry) ReadyTarget(key string) (target.Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	if !ok || rec.State != StateReady {
		return target.Target{}, false
	}
	return rec.Target, true
}

// Lock acquires the exclusive gate for key, waiting until it is free or
// ctx is done. The returned function releases the gate.
func (r *Registry) Lock(ctx context.Context, key string) (func(), error) {
	gate := r.gate(key)
	select {
	case gate <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-gate }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) gate(key string) chan struct{} {
	r.gateMu.Lock()
	defer r.gateMu.Unlock()
	g, ok := r.gates[key]
	if !ok {
		g = make(chan struct{}, 1)
		r.gates[key] = g
	}
	return g
}

// MarkProvisioning records that a provisioning attempt for key has started.
func (r *Registry) MarkProvisioning(key string, t target.Target, viewOnly bool) Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.recordLocked(key)
	rec.State = StateProvisioning
	rec.Target = t
	rec.ViewOnly = viewOnly
	rec.Attempts++
	rec.LastError = ""
	rec.UpdatedAt = r.now()
	return *rec
}

// MarkReady records that the session for key is reachable at t. A Ready
// record keeps its target: marking it Ready again with a different target
// is an error.
func (r *Registry) MarkReady(key string, t target.Target, viewOnly bool) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.recordLocked(key)
	if rec.State == StateReady && rec.Target != t {
		return *rec, fmt.Errorf("session %s is already ready at %s", key, rec.Target)
	}
	rec.State = StateReady
	rec.Target = t
	rec.ViewOnly = viewOnly
	rec.LastError = ""
	rec.UpdatedAt = r.now()
	return *rec, nil
}

// MarkFailed records a failed provisioning attempt.
func (r *Registry) MarkFailed(key string, cause error) Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.recordLocked(key)
	rec.State = StateFailed
	if cause != nil {
		rec.LastError = cause.Error()
	}
	rec.UpdatedAt = r.now()
	return *rec
}

// Invalidate moves a Ready record back to Unprovisioned, but only if it is
// still Ready at t. It reports whether the record changed.
func (r *Registry) Invalidate(key string, t target.Target) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok || rec.State != StateReady || rec.Target != t {
		return false
	}
	rec.State = StateUnprovisioned
	rec.UpdatedAt = r.now()
	return true
}

func (r *Registry) recordLocked(key string) *Record {
	rec, ok := r.records[key]
	if !ok {
		now := r.now()
		rec = &Record{Key: key, State: StateUnprovisioned, CreatedAt: now, UpdatedAt: now}
		r.records[key] = rec
	}
	return rec
}

// Snapshot returns copies of all records ordered by key.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Counts returns the number of records in each state.
func (r *Registry) Counts() map[State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[State]int, 4)
	for _, rec := range r.records {
		counts[rec.State]++
	}
	return counts
}

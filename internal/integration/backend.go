package integration

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/provision"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/testutil"
)

// DesktopBackend is a provision.Backend whose Spawn starts an in-process
// RFB desktop on a unix socket. The desktop reports the key as its name.
type DesktopBackend struct {
	t         testing.TB
	socketDir string

	mu       sync.Mutex
	desktops map[string]*testutil.Desktop
	spawns   []provision.SpawnRequest
	accounts map[string]bool
	spawnErr error

	// StartDelay postpones the desktop after Spawn returns.
	StartDelay time.Duration
}

// NewDesktopBackend creates a backend placing sockets in socketDir.
func NewDesktopBackend(t testing.TB, socketDir string) *DesktopBackend {
	return &DesktopBackend{
		t:         t,
		socketDir: socketDir,
		desktops:  make(map[string]*testutil.Desktop),
		accounts:  make(map[string]bool),
	}
}

// Name implements provision.Backend.
func (b *DesktopBackend) Name() string { return "in-process" }

// Locate implements provision.Backend.
func (b *DesktopBackend) Locate(key string) (target.Target, error) {
	if err := provision.ValidateKey(key); err != nil {
		return target.Target{}, err
	}
	return target.Local(filepath.Join(b.socketDir, key)), nil
}

// Exists implements provision.Backend.
func (b *DesktopBackend) Exists(ctx context.Context, t target.Target) bool {
	var d net.Dialer
	conn, err := d.DialContext(ctx, t.Network(), t.Address())
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// EnsureAccount implements provision.Backend.
func (b *DesktopBackend) EnsureAccount(_ context.Context, account string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[account] = true
	return nil
}

// Spawn implements provision.Backend.
func (b *DesktopBackend) Spawn(_ context.Context, req provision.SpawnRequest) error {
	b.mu.Lock()
	b.spawns = append(b.spawns, req)
	err := b.spawnErr
	delay := b.StartDelay
	b.mu.Unlock()
	if err != nil {
		return err
	}

	start := func() {
		// A stale socket from a stopped desktop would block the listener.
		_ = os.Remove(req.Target.Path())
		d, err := testutil.ListenDesktop(b.t, req.Target.Path(), func(d *testutil.Desktop) {
			d.Name = req.Key
		})
		if err != nil {
			b.t.Logf("desktop %s failed to start: %v", req.Key, err)
			return
		}
		b.mu.Lock()
		b.desktops[req.Key] = d
		b.mu.Unlock()
	}
	if delay > 0 {
		time.AfterFunc(delay, start)
		return nil
	}
	start()
	return nil
}

// Grant implements provision.Backend.
func (b *DesktopBackend) Grant(context.Context, provision.SpawnRequest) error { return nil }

// SetSpawnErr makes subsequent spawns fail with err.
func (b *DesktopBackend) SetSpawnErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spawnErr = err
}

// Spawns returns every spawn request seen so far.
func (b *DesktopBackend) Spawns() []provision.SpawnRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]provision.SpawnRequest(nil), b.spawns...)
}

// HasAccount reports whether EnsureAccount was called for account.
func (b *DesktopBackend) HasAccount(account string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accounts[account]
}

// Desktop returns the running desktop for key.
func (b *DesktopBackend) Desktop(key string) (*testutil.Desktop, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.desktops[key]
	return d, ok
}

// Stop stops the desktop for key, leaving its registry entry Ready.
func (b *DesktopBackend) Stop(key string) error {
	b.mu.Lock()
	d, ok := b.desktops[key]
	delete(b.desktops, key)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no desktop for %s", key)
	}
	d.Close()
	return nil
}

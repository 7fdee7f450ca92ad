package provision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// AccountLock serializes account creation. Within a process it is a mutex;
// with a lock file it also excludes other vncgate processes on the host.
type AccountLock struct {
	mu   sync.Mutex
	file *flock.Flock
}

// NewAccountLock creates an account lock. An empty path gives an
// in-process lock only.
func NewAccountLock(path string) *AccountLock {
	l := &AccountLock{}
	if path != "" {
		l.file = flock.New(path)
	}
	return l
}

// Do runs fn while holding the lock.
func (l *AccountLock) Do(ctx context.Context, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		locked, err := l.file.TryLockContext(ctx, 50*time.Millisecond)
		if err != nil {
			return fmt.Errorf("acquiring account lock %s: %w", l.file.Path(), err)
		}
		if !locked {
			return fmt.Errorf("acquiring account lock %s: not acquired", l.file.Path())
		}
		defer func() { _ = l.file.Unlock() }()
	}

	return fn()
}

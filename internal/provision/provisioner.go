// Package provision ensures that the desktop behind a provisioning key
// exists, creating it at most once no matter how many viewers ask for it
// concurrently.
//
// The Provisioner owns the state machine and the per-key exclusion. The
// side effects (accounts, processes, permissions) are delegated to a
// Backend, so the same logic drives host processes, containers and the
// in-memory mock used by tests.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/registry"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// DefaultReadyTimeout bounds how long a spawned desktop may take to appear.
const DefaultReadyTimeout = 10 * time.Second

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateKey checks that key is safe to use as an account, socket or
// container name.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid provisioning key %q", key)
	}
	return nil
}

// SpawnRequest describes one desktop to bring up.
type SpawnRequest struct {
	Key      string
	Account  string
	ViewOnly bool
	Target   target.Target
}

// Backend performs the side effects of provisioning.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string
	// Locate returns where the desktop for key is, or will be, reachable.
	Locate(key string) (target.Target, error)
	// Exists reports whether a desktop is reachable at t.
	Exists(ctx context.Context, t target.Target) bool
	// EnsureAccount creates account if it does not exist. Calls are
	// serialized by the Provisioner.
	EnsureAccount(ctx context.Context, account string) error
	// Spawn starts the desktop. It may return before the desktop is
	// reachable.
	Spawn(ctx context.Context, req SpawnRequest) error
	// Grant applies access permissions once the desktop is reachable.
	Grant(ctx context.Context, req SpawnRequest) error
}

// Config wires a Provisioner.
type Config struct {
	Backend  Backend
	Registry *registry.Registry
	// Audit defaults to audit.Discard.
	Audit audit.Recorder
	// AccountLock defaults to an in-process lock.
	AccountLock *AccountLock
	Poll        PollConfig
	// ReadyTimeout defaults to DefaultReadyTimeout.
	ReadyTimeout time.Duration
	// FallbackAccount, if set, is the account used for view-only
	// sessions instead of the key itself.
	FallbackAccount string
	Logger          *slog.Logger
}

// Provisioner implements exactly-once desktop provisioning.
type Provisioner struct {
	backend         Backend
	registry        *registry.Registry
	audit           audit.Recorder
	accounts        *AccountLock
	poll            PollConfig
	readyTimeout    time.Duration
	fallbackAccount string
	logger          *slog.Logger
}

// New creates a Provisioner.
func New(cfg Config) (*Provisioner, error) {
	if cfg.Backend == nil {
		return nil, errors.ConfigError("provisioner requires a backend", nil)
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Discard
	}
	if cfg.AccountLock == nil {
		cfg.AccountLock = NewAccountLock("")
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.FallbackAccount != "" {
		if err := ValidateKey(cfg.FallbackAccount); err != nil {
			return nil, errors.ConfigError("invalid fallback account", err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		backend:         cfg.Backend,
		registry:        cfg.Registry,
		audit:           cfg.Audit,
		accounts:        cfg.AccountLock,
		poll:            cfg.Poll.withDefaults(),
		readyTimeout:    cfg.ReadyTimeout,
		fallbackAccount: cfg.FallbackAccount,
		logger:          logger.With("backend", cfg.Backend.Name()),
	}, nil
}

// Registry returns the session registry.
func (p *Provisioner) Registry() *registry.Registry {
	return p.registry
}

// Ensure returns the target of the desktop for key, provisioning it if
// needed. Concurrent calls for one key wait for a single attempt. A failed
// attempt is not retried automatically; the next call starts a new one.
func (p *Provisioner) Ensure(ctx context.Context, key string, viewOnly bool) (target.Target, error) {
	if err := ValidateKey(key); err != nil {
		return target.Target{}, errors.Provisioning(key, err)
	}

	if rec, ok := p.registry.Get(key); ok && rec.State == registry.StateReady {
		return p.readyTarget(rec, viewOnly)
	}

	unlock, err := p.registry.Lock(ctx, key)
	if err != nil {
		return target.Target{}, errors.Provisioning(key, err)
	}
	defer unlock()

	// Another caller may have finished while we waited.
	rec, known := p.registry.Get(key)
	if known && rec.State == registry.StateReady {
		return p.readyTarget(rec, viewOnly)
	}
	if err := modeConflict(rec, known, viewOnly); err != nil {
		return target.Target{}, errors.Provisioning(key, err)
	}

	t, err := p.backend.Locate(key)
	if err != nil {
		p.fail(key, t, err)
		return target.Target{}, errors.Provisioning(key, err)
	}

	req := SpawnRequest{Key: key, Account: p.accountFor(key, viewOnly), ViewOnly: viewOnly, Target: t}

	if p.backend.Exists(ctx, t) {
		if _, err := p.registry.MarkReady(key, t, viewOnly); err != nil {
			return target.Target{}, errors.Provisioning(key, err)
		}
		p.logger.Info("adopted running desktop", "key", key, "target", t.String())
		p.record(audit.Event{Type: audit.EventAdopt, Key: key, Target: t.String()})
		return t, nil
	}

	rec = p.registry.MarkProvisioning(key, t, viewOnly)
	p.logger.Info("provisioning desktop", "key", key, "account", req.Account, "target", t.String(),
		"view_only", viewOnly, "attempt", rec.Attempts)
	p.record(audit.Event{Type: audit.EventProvision, Key: key, Target: t.String(),
		Details: fmt.Sprintf("account=%s viewOnly=%t attempt=%d", req.Account, viewOnly, rec.Attempts)})

	// The attempt outlives a caller that gives up: other callers may be
	// waiting on the gate for the same desktop.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.readyTimeout)
	defer cancel()

	start := time.Now()
	if err := p.provision(pctx, req); err != nil {
		p.fail(key, t, err)
		return target.Target{}, errors.Provisioning(key, err)
	}

	if _, err := p.registry.MarkReady(key, t, viewOnly); err != nil {
		return target.Target{}, errors.Provisioning(key, err)
	}
	p.logger.Info("desktop ready", "key", key, "target", t.String(), "duration", time.Since(start))
	p.record(audit.Event{Type: audit.EventReady, Key: key, Target: t.String(),
		Details: fmt.Sprintf("duration=%s", time.Since(start).Round(time.Millisecond))})
	return t, nil
}

// readyTarget returns the target of a Ready record, provided the desktop
// runs in the requested mode.
func (p *Provisioner) readyTarget(rec registry.Record, viewOnly bool) (target.Target, error) {
	if err := modeConflict(rec, true, viewOnly); err != nil {
		p.logger.Warn("session mode mismatch", "key", rec.Key, "view_only", viewOnly, "error", err)
		return target.Target{}, errors.Provisioning(rec.Key, err)
	}
	return rec.Target, nil
}

// modeConflict reports a record whose desktop was started or adopted in
// the other mode. A view-only request must never reach a desktop that
// accepts input, and an account's own desktop must not be view-only.
func modeConflict(rec registry.Record, known, viewOnly bool) error {
	if !known || rec.ViewOnly == viewOnly {
		return nil
	}
	if rec.State != registry.StateReady && rec.Attempts == 0 {
		return nil
	}
	return fmt.Errorf("session %s runs with viewOnly=%t, request has viewOnly=%t", rec.Key, rec.ViewOnly, viewOnly)
}

func (p *Provisioner) accountFor(key string, viewOnly bool) string {
	if viewOnly && p.fallbackAccount != "" {
		return p.fallbackAccount
	}
	return key
}

func (p *Provisioner) provision(ctx context.Context, req SpawnRequest) error {
	if err := p.accounts.Do(ctx, func() error {
		return p.backend.EnsureAccount(ctx, req.Account)
	}); err != nil {
		return fmt.Errorf("ensuring account %s: %w", req.Account, err)
	}

	if err := p.backend.Spawn(ctx, req); err != nil {
		return fmt.Errorf("spawning desktop: %w", err)
	}

	if err := p.waitReady(ctx, req.Target); err != nil {
		return err
	}

	if err := p.backend.Grant(ctx, req); err != nil {
		return fmt.Errorf("granting access: %w", err)
	}
	return nil
}

func (p *Provisioner) waitReady(ctx context.Context, t target.Target) error {
	for attempt := 1; ; attempt++ {
		if p.backend.Exists(ctx, t) {
			return nil
		}
		timer := time.NewTimer(p.poll.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("desktop at %s not ready after %s: %w", t, p.readyTimeout, ctx.Err())
		case <-timer.C:
		}
	}
}

func (p *Provisioner) fail(key string, t target.Target, cause error) {
	p.registry.MarkFailed(key, cause)
	p.logger.Warn("provisioning failed", "key", key, "target", t.String(), "error", cause)
	p.record(audit.Event{Type: audit.EventFailed, Key: key, Target: t.String(), Details: cause.Error()})
}

// Invalidate reports that the desktop for key is no longer reachable at t.
// It only takes effect if the session is still Ready at t, so a stale
// report cannot clobber a newer desktop.
func (p *Provisioner) Invalidate(key string, t target.Target) bool {
	if !p.registry.Invalidate(key, t) {
		return false
	}
	p.logger.Warn("desktop invalidated", "key", key, "target", t.String())
	p.record(audit.Event{Type: audit.EventInvalidate, Key: key, Target: t.String()})
	return true
}

func (p *Provisioner) record(e audit.Event) {
	if err := p.audit.Log(e); err != nil {
		p.logger.Warn("failed to record audit event", "type", e.Type, "key", e.Key, "error", err)
	}
}

package provision

import (
	"context"
	"fmt"
	"log/slog"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/kballard/go-shellquote"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/system"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// Defaults for LocalConfig.
const (
	DefaultSocketDir     = "/run/vnc"
	DefaultHomeDir       = "/home"
	DefaultHomeSocket    = ".vncsocket"
	DefaultGroup         = "bigbluebutton"
	DefaultAccountCheck  = "id -u {account}"
	DefaultAccountCreate = "useradd --create-home {account}"
	DefaultSpawnCommand  = "sudo -u {account} -i tigervncserver -localhost yes -SecurityTypes None -BlacklistThreshold 1000000 -rfbunixpath {socket} -rfbunixmode 0660"
	DefaultViewOnlyArgs  = "-AcceptKeyEvents=0 -AcceptPointerEvents=0 -AcceptCutText=0"
	xauthorityName       = ".Xauthority"
	socketDirPerm        = 0o755
)

// LocalConfig configures a LocalBackend.
type LocalConfig struct {
	SocketDir string
	HomeDir   string
	// HomeSocket is a per-user override socket relative to the home
	// directory. Empty disables the override.
	HomeSocket string
	// Group is granted access to sockets and ~/.Xauthority. Empty skips grants.
	Group string
	// UseSudo prefixes account and grant commands with sudo.
	UseSudo bool

	AccountCheck  string
	AccountCreate string
	SpawnCommand  string
	ViewOnlyArgs  string

	Executor system.CommandExecutor
	FS       system.FileSystem
	// Dial checks that a socket accepts connections. Defaults to a real dial.
	Dial   func(ctx context.Context, t target.Target) error
	Logger *slog.Logger
}

// LocalBackend runs one desktop server per account on this host, each
// listening on a socket under SocketDir.
type LocalBackend struct {
	cfg LocalConfig
	run runner
}

// NewLocalBackend creates a LocalBackend, filling defaults for empty fields.
func NewLocalBackend(cfg LocalConfig) (*LocalBackend, error) {
	if cfg.SocketDir == "" {
		cfg.SocketDir = DefaultSocketDir
	}
	if cfg.HomeDir == "" {
		cfg.HomeDir = DefaultHomeDir
	}
	if cfg.AccountCheck == "" {
		cfg.AccountCheck = DefaultAccountCheck
	}
	if cfg.AccountCreate == "" {
		cfg.AccountCreate = DefaultAccountCreate
	}
	if cfg.SpawnCommand == "" {
		cfg.SpawnCommand = DefaultSpawnCommand
	}
	if cfg.Executor == nil {
		cfg.Executor = system.DefaultExecutor()
	}
	if cfg.FS == nil {
		cfg.FS = system.DefaultFS()
	}
	if cfg.Dial == nil {
		cfg.Dial = dialCheck
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	for _, tmpl := range []string{cfg.AccountCheck, cfg.AccountCreate, cfg.SpawnCommand, cfg.ViewOnlyArgs} {
		if _, err := shellquote.Split(tmpl); err != nil {
			return nil, fmt.Errorf("invalid command template %q: %w", tmpl, err)
		}
	}

	return &LocalBackend{
		cfg: cfg,
		run: runner{exec: cfg.Executor, logger: cfg.Logger},
	}, nil
}

// Name implements Backend.
func (b *LocalBackend) Name() string { return "local" }

// Locate implements Backend. A socket at ~/<HomeSocket> overrides the
// shared socket directory.
func (b *LocalBackend) Locate(key string) (target.Target, error) {
	if b.cfg.HomeSocket != "" {
		home, err := securejoin.SecureJoin(b.cfg.HomeDir, key)
		if err != nil {
			return target.Target{}, fmt.Errorf("resolving home of %s: %w", key, err)
		}
		override, err := securejoin.SecureJoin(home, b.cfg.HomeSocket)
		if err != nil {
			return target.Target{}, fmt.Errorf("resolving %s override: %w", b.cfg.HomeSocket, err)
		}
		if b.cfg.FS.IsSocket(override) {
			return target.Local(override), nil
		}
	}

	path, err := securejoin.SecureJoin(b.cfg.SocketDir, key)
	if err != nil {
		return target.Target{}, fmt.Errorf("resolving socket for %s: %w", key, err)
	}
	return target.Local(path), nil
}

// Exists implements Backend.
func (b *LocalBackend) Exists(ctx context.Context, t target.Target) bool {
	if t.Kind() == target.KindLocal && !b.cfg.FS.IsSocket(t.Path()) {
		return false
	}
	return b.cfg.Dial(ctx, t) == nil
}

// EnsureAccount implements Backend.
func (b *LocalBackend) EnsureAccount(ctx context.Context, account string) error {
	req := SpawnRequest{Account: account, Key: account}
	check, err := Expand(b.cfg.AccountCheck, req)
	if err != nil {
		return err
	}
	if err := b.run.run(ctx, check); err == nil {
		return nil
	}

	create, err := Expand(b.cfg.AccountCreate, req)
	if err != nil {
		return err
	}
	b.cfg.Logger.Info("creating account", "account", account)
	return b.run.run(ctx, privileged(b.cfg.UseSudo, create...))
}

// Spawn implements Backend. Any stale socket is removed first.
func (b *LocalBackend) Spawn(ctx context.Context, req SpawnRequest) error {
	if req.Target.Kind() != target.KindLocal {
		return fmt.Errorf("local backend cannot spawn at %s", req.Target)
	}
	if err := b.cfg.FS.MkdirAll(b.cfg.SocketDir, socketDirPerm); err != nil {
		return fmt.Errorf("creating socket dir: %w", err)
	}
	if b.cfg.FS.Exists(req.Target.Path()) {
		if err := b.cfg.FS.Remove(req.Target.Path()); err != nil {
			return fmt.Errorf("removing stale socket: %w", err)
		}
	}

	argv, err := Expand(b.cfg.SpawnCommand, req)
	if err != nil {
		return err
	}
	if req.ViewOnly && b.cfg.ViewOnlyArgs != "" {
		extra, err := Expand(b.cfg.ViewOnlyArgs, req)
		if err != nil {
			return err
		}
		argv = append(argv, extra...)
	}
	return b.run.start(argv)
}

// Grant implements Backend. The socket is opened to Group, and so is the
// account's ~/.Xauthority so that presenters can project onto the desktop.
func (b *LocalBackend) Grant(ctx context.Context, req SpawnRequest) error {
	if b.cfg.Group == "" {
		return nil
	}
	if err := b.run.grantSocket(ctx, b.cfg.UseSudo, b.cfg.Group, req.Target.Path()); err != nil {
		return err
	}

	home, err := securejoin.SecureJoin(b.cfg.HomeDir, req.Account)
	if err != nil {
		return fmt.Errorf("resolving home of %s: %w", req.Account, err)
	}
	xauth, err := securejoin.SecureJoin(home, xauthorityName)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", xauthorityName, err)
	}
	if !b.cfg.FS.Exists(xauth) {
		b.cfg.Logger.Debug("no .Xauthority to grant", "account", req.Account)
		return nil
	}
	if err := b.run.run(ctx, privileged(b.cfg.UseSudo, "chgrp", b.cfg.Group, xauth)); err != nil {
		return err
	}
	return b.run.run(ctx, privileged(b.cfg.UseSudo, "chmod", "g+r", xauth))
}

var _ Backend = (*LocalBackend)(nil)

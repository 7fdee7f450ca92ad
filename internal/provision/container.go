package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/system"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// Defaults for ContainerConfig.
const (
	DefaultContainerPrefix    = "vncgate-"
	DefaultContainerSocketDir = "/run/vnc"
)

// ContainerConfig configures a ContainerBackend.
type ContainerConfig struct {
	// Command is docker or podman. Empty auto-detects, preferring podman.
	Command string
	Image   string
	// Prefix is prepended to keys to form container names.
	Prefix string
	// SocketDir is the host directory bind-mounted into every container.
	SocketDir string
	// ContainerSocketDir is where SocketDir appears inside the container.
	ContainerSocketDir string
	ExtraArgs          []string
	// ViewOnlyArgs are appended after the image for view-only sessions.
	ViewOnlyArgs []string
	Group        string
	UseSudo      bool

	Executor system.CommandExecutor
	FS       system.FileSystem
	Dial     func(ctx context.Context, t target.Target) error
	Logger   *slog.Logger
}

// ContainerBackend runs each desktop in its own container. Accounts live
// inside the image, so EnsureAccount is a no-op.
type ContainerBackend struct {
	cfg ContainerConfig
	run runner
}

// NewContainerBackend creates a ContainerBackend.
func NewContainerBackend(cfg ContainerConfig) (*ContainerBackend, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("container backend requires an image")
	}
	if cfg.Command == "" {
		cmd, err := detectContainerCommand()
		if err != nil {
			return nil, err
		}
		cfg.Command = cmd
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultContainerPrefix
	}
	if cfg.SocketDir == "" {
		cfg.SocketDir = DefaultSocketDir
	}
	if cfg.ContainerSocketDir == "" {
		cfg.ContainerSocketDir = DefaultContainerSocketDir
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
	return &ContainerBackend{cfg: cfg, run: runner{exec: cfg.Executor, logger: cfg.Logger}}, nil
}

func detectContainerCommand() (string, error) {
	for _, cmd := range []string{"podman", "docker"} {
		if _, err := exec.LookPath(cmd); err == nil {
			return cmd, nil
		}
	}
	return "", fmt.Errorf("neither podman nor docker found in PATH")
}

// containerName returns the full container name for a key
func (b *ContainerBackend) containerName(key string) string {
	return b.cfg.Prefix + key
}

// Name implements Backend.
func (b *ContainerBackend) Name() string { return b.cfg.Command }

// Locate implements Backend.
func (b *ContainerBackend) Locate(key string) (target.Target, error) {
	path, err := securejoin.SecureJoin(b.cfg.SocketDir, key)
	if err != nil {
		return target.Target{}, fmt.Errorf("resolving socket for %s: %w", key, err)
	}
	return target.Local(path), nil
}

// Exists implements Backend.
func (b *ContainerBackend) Exists(ctx context.Context, t target.Target) bool {
	if !b.cfg.FS.IsSocket(t.Path()) {
		return false
	}
	return b.cfg.Dial(ctx, t) == nil
}

// EnsureAccount implements Backend.
func (b *ContainerBackend) EnsureAccount(context.Context, string) error {
	return nil
}

// isRunning checks if the container for key is currently running
func (b *ContainerBackend) isRunning(ctx context.Context, key string) bool {
	out, err := b.cfg.Executor.Execute(ctx, b.cfg.Command, "inspect", "-f", "{{.State.Running}}", b.containerName(key))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

// Spawn implements Backend. A running container for the key is reused; a
// stopped one is replaced.
func (b *ContainerBackend) Spawn(ctx context.Context, req SpawnRequest) error {
	name := b.containerName(req.Key)
	if b.isRunning(ctx, req.Key) {
		b.cfg.Logger.Debug("container already running", "container", name)
		return nil
	}
	// Ignore errors: the container usually does not exist.
	_, _ = b.cfg.Executor.Execute(ctx, b.cfg.Command, "rm", "-f", name)

	if err := b.cfg.FS.MkdirAll(b.cfg.SocketDir, socketDirPerm); err != nil {
		return fmt.Errorf("creating socket dir: %w", err)
	}

	socket := b.cfg.ContainerSocketDir + "/" + req.Key
	args := []string{b.cfg.Command, "run", "-d", "--name", name,
		"-v", fmt.Sprintf("%s:%s", b.cfg.SocketDir, b.cfg.ContainerSocketDir),
		"-e", "VNC_ACCOUNT=" + req.Account,
		"-e", "VNC_SOCKET=" + socket,
	}
	if req.ViewOnly {
		args = append(args, "-e", "VNC_VIEW_ONLY=1")
	}
	args = append(args, b.cfg.ExtraArgs...)
	args = append(args, b.cfg.Image)
	if req.ViewOnly {
		args = append(args, b.cfg.ViewOnlyArgs...)
	}

	b.cfg.Logger.Debug("creating container", "name", name, "runtime", b.cfg.Command)
	return b.run.run(ctx, args)
}

// Grant implements Backend.
func (b *ContainerBackend) Grant(ctx context.Context, req SpawnRequest) error {
	return b.run.grantSocket(ctx, b.cfg.UseSudo, b.cfg.Group, req.Target.Path())
}

var _ Backend = (*ContainerBackend)(nil)

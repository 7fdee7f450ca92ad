package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/registry"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/system"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeDial accepts connections to every socket present in fs.
func fakeDial(fs *system.MockFS) func(context.Context, target.Target) error {
	return func(_ context.Context, t target.Target) error {
		if fs.IsSocket(t.Path()) {
			return nil
		}
		return fmt.Errorf("dial %s: connection refused", t)
	}
}

func newLocal(t *testing.T, mutate func(*LocalConfig)) (*LocalBackend, *system.MockExecutor, *system.MockFS) {
	t.Helper()
	exec := system.NewMockExecutor()
	fs := system.NewMockFS()
	cfg := LocalConfig{
		HomeSocket: DefaultHomeSocket,
		Group:      DefaultGroup,
		Executor:   exec,
		FS:         fs,
		Dial:       fakeDial(fs),
		Logger:     quietLogger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := NewLocalBackend(cfg)
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	return b, exec, fs
}

func TestExpand(t *testing.T) {
	req := SpawnRequest{Key: "bob", Account: "bob", Target: target.Local("/run/vnc/bob")}
	got, err := Expand("sudo -u {account} -i 'my server' -rfbunixpath {socket} --name=vnc-{key}", req)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []string{"sudo", "-u", "bob", "-i", "my server", "-rfbunixpath", "/run/vnc/bob", "--name=vnc-bob"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand = %q, want %q", got, want)
	}

	// Substituted values are never re-split.
	req.Account = "two words"
	got, _ = Expand("id -u {account}", req)
	if len(got) != 3 || got[2] != "two words" {
		t.Errorf("Expand = %q", got)
	}

	if _, err := Expand("echo 'unterminated", req); err == nil {
		t.Error("expected error for unterminated quote")
	}
}

func TestNewLocalBackend_InvalidTemplate(t *testing.T) {
	_, err := NewLocalBackend(LocalConfig{SpawnCommand: `vnc "oops`})
	if err == nil {
		t.Error("expected error for invalid template")
	}
}

func TestLocalBackend_Locate(t *testing.T) {
	b, _, fs := newLocal(t, nil)

	got, err := b.Locate("bob")
	if err != nil {
		t.Fatal(err)
	}
	if got != target.Local("/run/vnc/bob") {
		t.Errorf("Locate = %v", got)
	}

	fs.AddSocket("/home/bob/.vncsocket")
	got, _ = b.Locate("bob")
	if got != target.Local("/home/bob/.vncsocket") {
		t.Errorf("Locate with override = %v", got)
	}

	got, err = b.Locate("../../etc/passwd")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got.Path(), "/run/vnc/") {
		t.Errorf("Locate escaped socket dir: %v", got)
	}
}

func TestLocalBackend_Exists(t *testing.T) {
	b, _, fs := newLocal(t, nil)
	sock := target.Local("/run/vnc/bob")

	if b.Exists(context.Background(), sock) {
		t.Error("missing socket should not exist")
	}

	fs.AddFile("/run/vnc/bob", nil, 0o644)
	if b.Exists(context.Background(), sock) {
		t.Error("regular file should not count as a desktop")
	}

	fs.AddSocket("/run/vnc/bob")
	if !b.Exists(context.Background(), sock) {
		t.Error("live socket should exist")
	}
}

func TestLocalBackend_ExistsStaleSocket(t *testing.T) {
	b, _, fs := newLocal(t, func(c *LocalConfig) {
		c.Dial = func(context.Context, target.Target) error { return fmt.Errorf("connection refused") }
	})
	fs.AddSocket("/run/vnc/bob")
	if b.Exists(context.Background(), target.Local("/run/vnc/bob")) {
		t.Error("socket nobody listens on should not exist")
	}
}

func TestLocalBackend_EnsureAccount(t *testing.T) {
	t.Run("existing", func(t *testing.T) {
		b, exec, _ := newLocal(t, nil)
		if err := b.EnsureAccount(context.Background(), "bob"); err != nil {
			t.Fatal(err)
		}
		if len(exec.Commands) != 1 || exec.Commands[0].String() != "id -u bob" {
			t.Errorf("commands = %v", exec.Commands)
		}
	})

	t.Run("create", func(t *testing.T) {
		b, exec, _ := newLocal(t, func(c *LocalConfig) { c.UseSudo = true })
		exec.AddResponse("id -u bob", nil, fmt.Errorf("exit status 1"))
		if err := b.EnsureAccount(context.Background(), "bob"); err != nil {
			t.Fatal(err)
		}
		last, _ := exec.LastCommand()
		if last.String() != "sudo useradd --create-home bob" {
			t.Errorf("last command = %q", last)
		}
	})

	t.Run("create fails", func(t *testing.T) {
		b, exec, _ := newLocal(t, nil)
		exec.AddResponse("id", nil, fmt.Errorf("exit status 1"))
		exec.AddResponse("useradd", []byte("useradd: Permission denied."), fmt.Errorf("exit status 1"))
		err := b.EnsureAccount(context.Background(), "bob")
		if err == nil || !strings.Contains(err.Error(), "Permission denied") {
			t.Errorf("err = %v, want command output in error", err)
		}
	})
}

func TestLocalBackend_Spawn(t *testing.T) {
	b, exec, fs := newLocal(t, nil)
	fs.AddSocket("/run/vnc/bob")

	req := SpawnRequest{Key: "bob", Account: "bob", Target: target.Local("/run/vnc/bob")}
	if err := b.Spawn(context.Background(), req); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if fs.Exists("/run/vnc/bob") {
		t.Error("stale socket should be removed before spawning")
	}
	last, ok := exec.LastCommand()
	if !ok || !last.Background {
		t.Fatalf("expected a background command, got %+v", last)
	}
	want := "sudo -u bob -i tigervncserver -localhost yes -SecurityTypes None -BlacklistThreshold 1000000 -rfbunixpath /run/vnc/bob -rfbunixmode 0660"
	if last.String() != want {
		t.Errorf("spawned %q\nwant    %q", last, want)
	}
}

func TestLocalBackend_SpawnViewOnly(t *testing.T) {
	b, exec, _ := newLocal(t, func(c *LocalConfig) { c.ViewOnlyArgs = DefaultViewOnlyArgs })

	req := SpawnRequest{Key: "m1", Account: "m1", ViewOnly: true, Target: target.Local("/run/vnc/m1")}
	if err := b.Spawn(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	last, _ := exec.LastCommand()
	if !strings.HasSuffix(last.String(), "-AcceptKeyEvents=0 -AcceptPointerEvents=0 -AcceptCutText=0") {
		t.Errorf("view-only args missing: %q", last)
	}
}

func TestLocalBackend_SpawnRejectsTCP(t *testing.T) {
	b, _, _ := newLocal(t, nil)
	if err := b.Spawn(context.Background(), SpawnRequest{Key: "bob", Target: target.TCP("localhost", 5901)}); err == nil {
		t.Error("expected error spawning at a tcp target")
	}
}

func TestLocalBackend_Grant(t *testing.T) {
	b, exec, fs := newLocal(t, nil)
	fs.AddFile("/home/bob/.Xauthority", []byte("cookie"), 0o600)

	req := SpawnRequest{Key: "bob", Account: "bob", Target: target.Local("/run/vnc/bob")}
	if err := b.Grant(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, c := range exec.Commands {
		got = append(got, c.String())
	}
	want := []string{
		"chgrp bigbluebutton /run/vnc/bob",
		"chmod g+rw /run/vnc/bob",
		"chgrp bigbluebutton /home/bob/.Xauthority",
		"chmod g+r /home/bob/.Xauthority",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestLocalBackend_GrantWithoutXauthority(t *testing.T) {
	b, exec, _ := newLocal(t, nil)
	req := SpawnRequest{Key: "bob", Account: "bob", Target: target.Local("/run/vnc/bob")}
	if err := b.Grant(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if n := len(exec.CommandsMatching(".Xauthority")); n != 0 {
		t.Errorf("%d commands touched .Xauthority", n)
	}
}

func TestLocalBackend_GrantDisabled(t *testing.T) {
	b, exec, _ := newLocal(t, func(c *LocalConfig) { c.Group = "" })
	if err := b.Grant(context.Background(), SpawnRequest{Key: "bob", Account: "bob", Target: target.Local("/run/vnc/bob")}); err != nil {
		t.Fatal(err)
	}
	if len(exec.Commands) != 0 {
		t.Errorf("commands = %v, want none", exec.Commands)
	}
}

// The provisioner and the local backend together: the spawned command
// creates the socket, which the poll loop then discovers.
func TestLocalBackend_WithProvisioner(t *testing.T) {
	b, exec, fs := newLocal(t, nil)
	exec.OnCommand = func(c system.MockCommand) {
		if c.Background {
			go func() {
				time.Sleep(10 * time.Millisecond)
				fs.AddSocket("/run/vnc/bob")
			}()
		}
	}

	p, err := New(Config{
		Backend:      b,
		Registry:     registry.New(),
		ReadyTimeout: time.Second,
		Poll:         PollConfig{InitialDelay: 2 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
		Logger:       quietLogger,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := p.Ensure(context.Background(), "bob", false)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if got != target.Local("/run/vnc/bob") {
		t.Errorf("target = %v", got)
	}
	if n := len(exec.CommandsMatching("tigervncserver")); n != 1 {
		t.Errorf("spawned %d times, want 1", n)
	}
	if n := len(exec.CommandsMatching("chgrp bigbluebutton /run/vnc/bob")); n != 1 {
		t.Errorf("socket grant ran %d times, want 1", n)
	}
}

func newContainer(t *testing.T, mutate func(*ContainerConfig)) (*ContainerBackend, *system.MockExecutor, *system.MockFS) {
	t.Helper()
	exec := system.NewMockExecutor()
	fs := system.NewMockFS()
	cfg := ContainerConfig{
		Command:  "podman",
		Image:    "localhost/vnc-desktop:latest",
		Executor: exec,
		FS:       fs,
		Dial:     fakeDial(fs),
		Logger:   quietLogger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := NewContainerBackend(cfg)
	if err != nil {
		t.Fatalf("NewContainerBackend: %v", err)
	}
	return b, exec, fs
}

func TestNewContainerBackend_RequiresImage(t *testing.T) {
	if _, err := NewContainerBackend(ContainerConfig{Command: "docker"}); err == nil {
		t.Error("expected error without image")
	}
}

func TestContainerBackend_Spawn(t *testing.T) {
	b, exec, _ := newContainer(t, func(c *ContainerConfig) {
		c.ExtraArgs = []string{"--memory", "2g"}
		c.ViewOnlyArgs = []string{"--view-only"}
	})

	req := SpawnRequest{Key: "m1", Account: "presenter", ViewOnly: true, Target: target.Local("/run/vnc/m1")}
	if err := b.Spawn(context.Background(), req); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if n := len(exec.CommandsMatching("podman rm -f vncgate-m1")); n != 1 {
		t.Errorf("expected stopped container to be removed, got %d rm calls", n)
	}
	last, _ := exec.LastCommand()
	want := "podman run -d --name vncgate-m1 -v /run/vnc:/run/vnc -e VNC_ACCOUNT=presenter -e VNC_SOCKET=/run/vnc/m1 -e VNC_VIEW_ONLY=1 --memory 2g localhost/vnc-desktop:latest --view-only"
	if last.String() != want {
		t.Errorf("run = %q\nwant  %q", last, want)
	}
}

func TestContainerBackend_SpawnReusesRunning(t *testing.T) {
	b, exec, _ := newContainer(t, nil)
	exec.AddResponse("podman inspect -f {{.State.Running}} vncgate-bob", []byte("true\n"), nil)

	if err := b.Spawn(context.Background(), SpawnRequest{Key: "bob", Account: "bob", Target: target.Local("/run/vnc/bob")}); err != nil {
		t.Fatal(err)
	}
	if n := len(exec.CommandsMatching("podman run")); n != 0 {
		t.Errorf("running container should be reused, got %d run calls", n)
	}
}

func TestContainerBackend_LocateAndExists(t *testing.T) {
	b, _, fs := newContainer(t, func(c *ContainerConfig) { c.SocketDir = "/srv/vnc" })

	got, err := b.Locate("bob")
	if err != nil {
		t.Fatal(err)
	}
	if got != target.Local("/srv/vnc/bob") {
		t.Errorf("Locate = %v", got)
	}
	if b.Exists(context.Background(), got) {
		t.Error("socket should not exist yet")
	}
	fs.AddSocket("/srv/vnc/bob")
	if !b.Exists(context.Background(), got) {
		t.Error("socket should exist")
	}
	if err := b.EnsureAccount(context.Background(), "bob"); err != nil {
		t.Errorf("EnsureAccount: %v", err)
	}
	if b.Name() != "podman" {
		t.Errorf("Name = %q", b.Name())
	}
}

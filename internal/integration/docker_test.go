package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/provision"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/system"
)

// These tests start real containers. They need
// VNCGATE_INTEGRATION_TESTS=1 and VNCGATE_TEST_IMAGE naming an image that
// serves RFB on $VNC_SOCKET inside the container.
func skipUnlessContainers(t *testing.T) (command, image string) {
	t.Helper()
	if os.Getenv("VNCGATE_INTEGRATION_TESTS") != "1" {
		t.Skip("set VNCGATE_INTEGRATION_TESTS=1 to run container tests")
	}
	image = os.Getenv("VNCGATE_TEST_IMAGE")
	if image == "" {
		t.Skip("VNCGATE_TEST_IMAGE is not set")
	}
	for _, cmd := range []string{"podman", "docker"} {
		if _, err := exec.LookPath(cmd); err == nil {
			return cmd, image
		}
	}
	t.Skip("neither podman nor docker found in PATH")
	return "", ""
}

func TestContainer_ProvisionAndRelay(t *testing.T) {
	command, image := skipUnlessContainers(t)

	socketDir := t.TempDir()
	prefix := fmt.Sprintf("vncgate-test-%d-", time.Now().UnixNano()%100000)
	backend, err := provision.NewContainerBackend(provision.ContainerConfig{
		Command:   command,
		Image:     image,
		Prefix:    prefix,
		SocketDir: socketDir,
		// NewHarness installs mock defaults; containers need the real ones.
		Executor: system.DefaultExecutor(),
		FS:       system.DefaultFS(),
	})
	if err != nil {
		t.Fatalf("NewContainerBackend() error = %v", err)
	}

	h := NewHarness(t, fmt.Sprintf(`
[[lookup.users]]
subject = "bob"
account = "bob"

[provision]
backend = "container"
ready_timeout = "60s"

[container]
command = %q
image = %q
`, command, image), backend)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = exec.CommandContext(ctx, command, "rm", "-f", prefix+"bob").Run()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	v, err := h.Connect(ctx, "bob", "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer v.Close()

	if v.Init.Width == 0 || v.Init.Height == 0 {
		t.Errorf("geometry = %dx%d", v.Init.Width, v.Init.Height)
	}
	if _, ok := h.App.Registry.ReadyTarget("bob"); !ok {
		t.Error("bob is not ready")
	}
}

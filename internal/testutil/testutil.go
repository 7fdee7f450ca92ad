// Package testutil provides test utilities for integration tests
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/system"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/token"
)

// TestSecret signs tokens issued by a TestEnv.
const TestSecret = "vncgate-test-secret"

// TestEnv holds the test environment
type TestEnv struct {
	T          *testing.T
	TmpDir     string
	ConfigPath string
	Config     *config.Config
	Executor   *system.MockExecutor
	FS         *system.MockFS
	issuer     *token.Issuer
}

// NewTestEnv writes a config file into a temporary directory and installs
// mock system defaults, restored when the test ends. extra is appended to
// the generated TOML.
func NewTestEnv(t *testing.T, extra string) *TestEnv {
	t.Helper()

	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "state")
	socketDir := filepath.Join(tmpDir, "sockets")
	for _, dir := range []string{stateDir, socketDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	secretFile := filepath.Join(tmpDir, "token.secret")
	if err := os.WriteFile(secretFile, []byte(TestSecret+"\n"), 0600); err != nil {
		t.Fatalf("Failed to write test secret file: %v", err)
	}

	body := `state_dir = "` + stateDir + `"

[listen]
relay = "127.0.0.1:0"
admin = "127.0.0.1:0"

[token]
secret_file = "token.secret"

[local]
socket_dir = "` + socketDir + `"
use_sudo = false
` + extra

	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load test config: %v", err)
	}

	exec := system.NewMockExecutor()
	fs := system.NewMockFS()
	system.SetDefaultExecutor(exec)
	system.SetDefaultFS(fs)
	t.Cleanup(system.ResetDefaults)

	return &TestEnv{
		T:          t,
		TmpDir:     tmpDir,
		ConfigPath: configPath,
		Config:     cfg,
		Executor:   exec,
		FS:         fs,
		issuer:     token.NewIssuer([]byte(TestSecret)),
	}
}

// Token issues a token for subject valid for an hour.
func (e *TestEnv) Token(subject, meetingID string) string {
	e.T.Helper()
	raw, err := e.issuer.Issue(subject, meetingID, time.Hour)
	if err != nil {
		e.T.Fatalf("Failed to issue token: %v", err)
	}
	return raw
}

// SocketPath returns the socket path the local backend uses for key.
func (e *TestEnv) SocketPath(key string) string {
	return filepath.Join(e.Config.Local.SocketDir, key)
}

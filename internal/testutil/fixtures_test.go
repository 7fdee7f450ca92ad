package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

func TestLoadValidConfig(t *testing.T) {
	cfg, err := ValidConfig()
	if err != nil {
		t.Fatalf("ValidConfig() error: %v", err)
	}

	if cfg.Provision.Backend != config.BackendLocal {
		t.Errorf("Backend = %q, want %q", cfg.Provision.Backend, config.BackendLocal)
	}
	if len(cfg.Lookup.Users) != 2 {
		t.Errorf("Users = %+v, want 2 entries", cfg.Lookup.Users)
	}
	if cfg.Provision.ReadyTimeout != 10*time.Second {
		t.Errorf("ReadyTimeout = %s", cfg.Provision.ReadyTimeout)
	}
	if got := cfg.DefaultTarget(); got != target.TCP("127.0.0.1", 5900) {
		t.Errorf("DefaultTarget = %v", got)
	}
	secret, err := cfg.TokenSecret()
	if err != nil || string(secret) != "test-secret" {
		t.Errorf("TokenSecret() = %q, %v", secret, err)
	}
}

func TestLoadContainerConfig(t *testing.T) {
	cfg, err := ContainerConfig()
	if err != nil {
		t.Fatalf("ContainerConfig() error: %v", err)
	}

	if cfg.Provision.Backend != config.BackendContainer {
		t.Errorf("Backend = %q", cfg.Provision.Backend)
	}
	if cfg.Container.Image != "localhost/vnc-desktop:latest" || len(cfg.Container.ViewOnlyArgs) != 1 {
		t.Errorf("Container = %+v", cfg.Container)
	}
	if cfg.Container.Prefix == "" {
		t.Error("Prefix should keep its default")
	}
	url, secret, err := cfg.BBBCredentials()
	if err != nil || url != "https://bbb.example.org/bigbluebutton" || secret != "bbb-secret" {
		t.Errorf("BBBCredentials() = %q, %q, %v", url, secret, err)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	_, err := InvalidConfig()
	if err == nil {
		t.Fatal("Invalid config should fail validation")
	}
	if !strings.Contains(err.Error(), "exactly one of token") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadFixture_NotFound(t *testing.T) {
	if _, err := LoadFixture("nonexistent.toml"); err == nil {
		t.Error("Expected error for nonexistent fixture")
	}
}

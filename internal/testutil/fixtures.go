package testutil

import (
	"embed"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/config"
)

//go:embed fixtures/*.toml
var fixturesFS embed.FS

// LoadFixture loads a fixture file by name.
func LoadFixture(name string) ([]byte, error) {
	return fixturesFS.ReadFile("fixtures/" + name)
}

// LoadConfigFixture parses and validates a config fixture.
func LoadConfigFixture(name string) (*config.Config, error) {
	data, err := LoadFixture(name)
	if err != nil {
		return nil, err
	}
	return config.Parse(data, "fixtures/"+name)
}

// ValidConfig returns the local-backend config fixture.
func ValidConfig() (*config.Config, error) {
	return LoadConfigFixture("valid_config.toml")
}

// ContainerConfig returns the container-backend config fixture.
func ContainerConfig() (*config.Config, error) {
	return LoadConfigFixture("container_config.toml")
}

// InvalidConfig returns the result of parsing the invalid config fixture.
func InvalidConfig() (*config.Config, error) {
	return LoadConfigFixture("invalid_config.toml")
}

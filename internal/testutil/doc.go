// Package testutil provides test fixtures, fake servers and utilities.
//
// # Fixtures
//
// TOML configuration fixtures are embedded using go:embed:
//
//	fixtures/valid_config.toml
//	fixtures/container_config.toml
//	fixtures/invalid_config.toml
//
// Helper functions parse and validate them:
//
//	cfg, err := testutil.ValidConfig()
//	cfg, err := testutil.ContainerConfig()
//	_, err := testutil.InvalidConfig() // always fails validation
//
// # Fake Servers
//
// Desktop is a fake RFB server that completes the handshake through
// ServerInit; EchoServer echoes whatever it receives:
//
//	d := testutil.NewDesktop(t, func(d *testutil.Desktop) { d.Name = "bob" })
//	res, err := prober.Probe(ctx, d.Target())
//
//	echo := testutil.NewEchoServer(t)
//
// Both stop when the test ends.
//
// # Test Environment
//
// NewTestEnv writes a loadable config into a temporary directory, installs
// mock command and filesystem defaults, and issues signed tokens:
//
//	env := testutil.NewTestEnv(t, "")
//	raw := env.Token("alice", "")
package testutil

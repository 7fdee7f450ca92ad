// Package integration runs the whole gateway end to end.
//
// Harness builds the app from a generated test config and serves the relay
// and admin API on loopback listeners. DesktopBackend stands in for the
// local and container backends: Spawn starts an in-process RFB desktop on
// a unix socket, so provisioning, invalidation and relaying run against
// real sockets without privileges.
//
//	backend := integration.NewDesktopBackend(t, t.TempDir())
//	h := integration.NewHarness(t, extraTOML, backend)
//	v, err := h.Connect(ctx, "bob", "")
//
// The container tests in docker_test.go start real containers and are
// skipped unless VNCGATE_INTEGRATION_TESTS=1 and VNCGATE_TEST_IMAGE are set.
package integration

// Package app assembles a running vncgate from its configuration.
//
// New builds the token verifier, identity lookups, optional meeting
// directory, resolver, provisioner backend, registry, relay, admin API and
// health monitor. Options replace individual pieces, which keeps command
// and integration tests free of real desktops:
//
//	a, err := app.New(cfg, app.WithBackend(provision.NewMockBackend()))
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	err = a.Run(ctx) // blocks until ctx is done
//
// Viewers lists the attendees of a meeting together with the route each
// one resolves to and the geometry of any desktop already running. It
// never provisions.
package app

// Package relay accepts WebSocket viewers and relays them to VNC desktops.
//
// Every upgrade request carries a signed token, either as the first path
// segment or as the token query parameter. The relay verifies it, resolves
// a route and, when the route names a session, asks the provisioner for a
// ready desktop before upgrading. Failures before the upgrade are answered
// with an HTTP status and a JSON error body:
//
//	401  authentication_error  bad, expired or missing token
//	404  no_route_error        subject has no desktop and no fallback
//	429  rate_limit_error      subject opened too many connections
//	502  resolution_error      meeting directory or lookup failed
//	503  provisioning_error    desktop could not be started
//
// After the upgrade, bytes are copied unchanged in both directions. Each
// WebSocket message becomes a write to the desktop; desktop output is sent
// as binary messages. If the desktop cannot be dialed, the viewer receives
// close code 1013 (try again later) and a provisioned session is
// invalidated so the next viewer starts it again.
//
// # Running the Relay
//
//	r, err := relay.New(relay.Config{
//	    Resolver:    res,
//	    Provisioner: prov,
//	    Audit:       auditLogger,
//	})
//	if err != nil {
//	    return err
//	}
//	srv := relay.NewServer("relay", ":6080", r, logger)
//	err = srv.ListenAndServe(ctx) // blocks until ctx is done
//
// # Admin API
//
// Admin serves a read-only JSON view of sessions, connections and audit
// events, and can probe arbitrary desktops:
//
//	GET /healthz
//	GET /sessions
//	GET /sessions/{key}
//	GET /sessions/{key}/events
//	GET /connections
//	GET /probe?target=unix:///run/vnc/bob
package relay

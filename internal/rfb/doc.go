// Package rfb probes VNC desktops for their name and geometry.
//
// A probe speaks just enough of the RFB protocol to reach ServerInit:
//
//	server: "RFB 003.008\n"          client: "RFB 003.008\n"
//	server: security types [1]       client: 1 (None)
//	server: SecurityResult 0         (3.8 only)
//	client: ClientInit shared=1
//	server: ServerInit width, height, pixel format, name
//
// and then disconnects. Versions 3.3, 3.7 and 3.8 are understood; newer
// servers are answered with 3.8. Only the None security type is accepted,
// matching desktops that are reachable solely through the local socket.
//
// Every probe owns its connection, so probes of different desktops run
// fully in parallel:
//
//	prober := rfb.NewProber(5*time.Second, logger)
//	res, err := prober.Probe(ctx, target.Local("/run/vnc/bob"))
//
//	for o := range prober.ProbeAsync(ctx, t) { ... }
//
//	results := prober.ProbeAll(ctx, targets, 8)
//
// GeometryCache remembers results per target so that repeated lookups do
// not reconnect.
package rfb

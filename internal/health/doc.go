// Package health checks whether a desktop behind a target answers the RFB
// handshake.
//
// # Health Status
//
// Desktop health is represented by Status:
//
//	StatusHealthy       - Handshake completed through ServerInit
//	StatusUnreachable   - Connect failed or the desktop never answered
//	StatusProtocolError - Something answered, but not a usable RFB server
//	StatusUnknown       - Not checked yet
//
// # Check Functions
//
//	result := health.Check(ctx, prober, target)
//	// result.Status, .Geometry, .Error
//
//	status := health.StatusOf(err)
//
// FormatDuration and Age render durations for tables.
package health

// Package errors provides typed errors with exit codes for vncgate.
//
// # Error Types
//
// GateError is the base error type. It carries a Kind, which callers use
// to decide how to react, and an exit code for the CLI:
//
//	type GateError struct {
//	    Kind    Kind   // Error category
//	    Code    int    // Exit code
//	    Message string // User-facing message
//	    Cause   error  // Wrapped error
//	}
//
// # Kinds
//
//	KindAuthentication  // malformed or unverifiable token: reject immediately
//	KindResolution      // identity/meeting collaborator unreachable
//	KindNoRoute         // no mapping and no fallback for an identity
//	KindProvisioning    // account/process creation failed or readiness timed out
//	KindProbeTimeout    // probe could not reach the backend (non-fatal)
//	KindProtocol        // malformed RFB handshake (non-fatal)
//	KindRelayIO         // backend or client closed mid-stream
//	KindConfig          // configuration error
//
// KindResolution and KindNoRoute are deliberately distinct so operators can
// tell an outage from a legitimately unmapped user.
//
// # Exit Codes
//
//	ExitSuccess        = 0
//	ExitGeneralError   = 1
//	ExitAuthentication = 2
//	ExitResolution     = 3
//	ExitNoRoute        = 4
//	ExitProvisioning   = 5
//	ExitProbeTimeout   = 6
//	ExitProtocol       = 7
//	ExitRelayIO        = 8
//	ExitConfigError    = 9
//
// # Classifying Errors
//
//	switch errors.KindOf(err) {
//	case errors.KindAuthentication:
//	    // 401
//	case errors.KindProvisioning:
//	    // 503
//	}
//
//	os.Exit(errors.GetExitCode(err))
package errors

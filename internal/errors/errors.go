package errors

import (
	"errors"
	"fmt"
)

// Exit codes for vncgate
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitAuthentication = 2
	ExitResolution     = 3
	ExitNoRoute        = 4
	ExitProvisioning   = 5
	ExitProbeTimeout   = 6
	ExitProtocol       = 7
	ExitRelayIO        = 8
	ExitConfigError    = 9
)

// Kind classifies a GateError.
type Kind string

const (
	KindGeneral        Kind = "general"
	KindAuthentication Kind = "authentication"
	KindResolution     Kind = "resolution"
	KindNoRoute        Kind = "no-route"
	KindProvisioning   Kind = "provisioning"
	KindProbeTimeout   Kind = "probe-timeout"
	KindProtocol       Kind = "protocol"
	KindRelayIO        Kind = "relay-io"
	KindConfig         Kind = "config"
)

var kindCodes = map[Kind]int{
	KindGeneral:        ExitGeneralError,
	KindAuthentication: ExitAuthentication,
	KindResolution:     ExitResolution,
	KindNoRoute:        ExitNoRoute,
	KindProvisioning:   ExitProvisioning,
	KindProbeTimeout:   ExitProbeTimeout,
	KindProtocol:       ExitProtocol,
	KindRelayIO:        ExitRelayIO,
	KindConfig:         ExitConfigError,
}

// GateError is the base error type for vncgate
type GateError struct {
	Kind    Kind
	Code    int
	Message string
	Cause   error
}

func (e *GateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *GateError) Unwrap() error {
	return e.Cause
}

// ExitCode returns the exit code for this error
func (e *GateError) ExitCode() int {
	return e.Code
}

// Is reports whether target is a GateError of the same kind. This lets
// callers match with errors.Is(err, errors.New(KindProvisioning, "")).
func (e *GateError) Is(target error) bool {
	t, ok := target.(*GateError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New creates a new GateError
func New(kind Kind, message string) *GateError {
	return &GateError{
		Kind:    kind,
		Code:    codeFor(kind),
		Message: message,
	}
}

// Wrap wraps an existing error with a GateError
func Wrap(kind Kind, message string, cause error) *GateError {
	return &GateError{
		Kind:    kind,
		Code:    codeFor(kind),
		Message: message,
		Cause:   cause,
	}
}

func codeFor(kind Kind) int {
	if code, ok := kindCodes[kind]; ok {
		return code
	}
	return ExitGeneralError
}

// Common error constructors

// Authentication returns an error for a malformed or unverifiable token
func Authentication(message string, cause error) *GateError {
	return Wrap(KindAuthentication, message, cause)
}

// Resolution returns an error for an unreachable identity or meeting collaborator
func Resolution(message string, cause error) *GateError {
	return Wrap(KindResolution, message, cause)
}

// NoRoute returns an error when an identity has no mapping and no fallback applies
func NoRoute(subject string) *GateError {
	return New(KindNoRoute, fmt.Sprintf("no route for identity %q", subject))
}

// Provisioning returns an error for a failed or timed-out backend provisioning
func Provisioning(key string, cause error) *GateError {
	return Wrap(KindProvisioning, fmt.Sprintf("provisioning %s failed", key), cause)
}

// ProbeTimeout returns an error for an unreachable or unresponsive backend probe
func ProbeTimeout(target string, cause error) *GateError {
	return Wrap(KindProbeTimeout, fmt.Sprintf("probe %s timed out", target), cause)
}

// Protocol returns an error for a malformed RFB handshake
func Protocol(message string, cause error) *GateError {
	return Wrap(KindProtocol, message, cause)
}

// RelayIO returns an error for a relay stream that failed mid-flight
func RelayIO(message string, cause error) *GateError {
	return Wrap(KindRelayIO, message, cause)
}

// ConfigError returns an error for configuration issues
func ConfigError(message string, cause error) *GateError {
	return Wrap(KindConfig, message, cause)
}

// ValidationError returns an error for input validation failures
func ValidationError(message string) *GateError {
	return New(KindGeneral, message)
}

// KindOf returns the kind of the first GateError in err's chain, or
// KindGeneral when there is none.
func KindOf(err error) Kind {
	var gateErr *GateError
	if errors.As(err, &gateErr) {
		return gateErr.Kind
	}
	return KindGeneral
}

// IsKind reports whether err's chain contains a GateError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// GetExitCode extracts the exit code from an error
func GetExitCode(err error) int {
	var gateErr *GateError
	if errors.As(err, &gateErr) {
		return gateErr.ExitCode()
	}
	return ExitGeneralError
}

// Is checks if an error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}

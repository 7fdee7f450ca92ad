// Package resolver turns an inbound identity token into a route: either a
// backend target to dial directly, or a provisioning key whose desktop must
// be ensured first.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/lookup"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/provision"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/token"
)

// DefaultDirectHost is the host used for direct-port mappings.
const DefaultDirectHost = "localhost"

// RouteKind distinguishes the two route variants.
type RouteKind int

const (
	RouteDirect RouteKind = iota + 1
	RouteNeedsProvisioning
)

func (k RouteKind) String() string {
	switch k {
	case RouteDirect:
		return "direct"
	case RouteNeedsProvisioning:
		return "provision"
	default:
		return "unknown"
	}
}

// Route is the outcome of resolution.
type Route struct {
	Kind RouteKind
	// Target is set for direct routes.
	Target target.Target
	// Key and ViewOnly are set for routes that need provisioning.
	Key      string
	ViewOnly bool
	// Subject is the verified identity the route was resolved for.
	Subject string
	// Reason is a short tag describing which rule produced the route.
	Reason string
}

// Direct returns a direct route.
func Direct(t target.Target) Route {
	return Route{Kind: RouteDirect, Target: t}
}

// NeedsProvisioning returns a route that must be provisioned.
func NeedsProvisioning(key string, viewOnly bool) Route {
	return Route{Kind: RouteNeedsProvisioning, Key: key, ViewOnly: viewOnly}
}

// IsDirect reports whether the route skips provisioning.
func (r Route) IsDirect() bool { return r.Kind == RouteDirect }

func (r Route) String() string {
	switch r.Kind {
	case RouteDirect:
		return "direct " + r.Target.String()
	case RouteNeedsProvisioning:
		if r.ViewOnly {
			return fmt.Sprintf("provision %s (view-only)", r.Key)
		}
		return "provision " + r.Key
	default:
		return "<no route>"
	}
}

// Request is an inbound resolution request. A meeting is only taken from
// the signed token or the meeting directory, never from the request.
type Request struct {
	Token string
}

// TokenVerifier verifies identity tokens.
type TokenVerifier interface {
	Verify(raw string) (*token.Identity, error)
}

// MeetingDirectory finds the meeting an attendee is currently in.
type MeetingDirectory interface {
	FindMeetingForAttendee(ctx context.Context, fullName string) (string, bool, error)
}

// Config wires a Resolver.
type Config struct {
	Verifier TokenVerifier
	Lookup   lookup.Lookup
	// Meetings is optional.
	Meetings MeetingDirectory
	// DirectHost defaults to DefaultDirectHost.
	DirectHost string
	// DefaultTarget is used when nothing else matches. Zero means none.
	DefaultTarget target.Target
	Logger        *slog.Logger
}

// Resolver implements token resolution.
type Resolver struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Verifier == nil {
		return nil, errors.ConfigError("resolver requires a token verifier", nil)
	}
	if cfg.Lookup == nil {
		return nil, errors.ConfigError("resolver requires an identity lookup", nil)
	}
	if cfg.DirectHost == "" {
		cfg.DirectHost = DefaultDirectHost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, logger: logger}, nil
}

// Verify checks the token alone. The relay calls it before upgrading so
// authentication failures are reported as HTTP errors.
func (r *Resolver) Verify(raw string) (*token.Identity, error) {
	return r.cfg.Verifier.Verify(raw)
}

// Resolve maps req to a route.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Route, error) {
	id, err := r.cfg.Verifier.Verify(req.Token)
	if err != nil {
		return Route{}, err
	}
	return r.ResolveIdentity(ctx, id)
}

// ResolveIdentity maps an identity already returned by Verify to a route.
func (r *Resolver) ResolveIdentity(ctx context.Context, id *token.Identity) (Route, error) {
	route, err := r.resolveIdentity(ctx, id)
	if err != nil {
		return Route{}, err
	}
	route.Subject = id.Subject
	r.logger.Debug("route resolved", "subject", id.Subject, "route", route.String(), "reason", route.Reason)
	return route, nil
}

// ResolveSubject maps an already trusted subject to a route without a
// token. Operator tooling uses it to enumerate meeting viewers.
func (r *Resolver) ResolveSubject(ctx context.Context, subject, meetingID string) (Route, error) {
	route, err := r.resolveIdentity(ctx, &token.Identity{Subject: subject, MeetingID: meetingID})
	if err != nil {
		return Route{}, err
	}
	route.Subject = subject
	return route, nil
}

func (r *Resolver) resolveIdentity(ctx context.Context, id *token.Identity) (Route, error) {
	m, err := r.cfg.Lookup.Lookup(ctx, id.Subject)
	if err != nil {
		return Route{}, errors.Resolution(fmt.Sprintf("identity lookup for %q failed", id.Subject), err)
	}

	if m.HasDirectPort() {
		route := Direct(target.TCP(r.cfg.DirectHost, m.DirectPort))
		route.Reason = "mapped-port"
		return route, nil
	}
	if m.HasAccount() {
		if IsFallbackKey(m.Account) {
			return Route{}, errors.Resolution(
				fmt.Sprintf("account %q for %q is in the meeting key namespace", m.Account, id.Subject), nil)
		}
		route := NeedsProvisioning(m.Account, false)
		route.Reason = "mapped-account"
		return route, nil
	}

	meetingID, err := r.meetingFor(ctx, id)
	if err != nil {
		return Route{}, err
	}
	if meetingID != "" {
		key := FallbackKey(meetingID)
		if err := provision.ValidateKey(key); err != nil {
			return Route{}, errors.Resolution(fmt.Sprintf("meeting %q has no usable key", meetingID), err)
		}
		route := NeedsProvisioning(key, true)
		route.Reason = "meeting-fallback"
		return route, nil
	}

	if !r.cfg.DefaultTarget.IsZero() {
		route := Direct(r.cfg.DefaultTarget)
		route.Reason = "default-target"
		return route, nil
	}
	return Route{}, errors.NoRoute(id.Subject)
}

func (r *Resolver) meetingFor(ctx context.Context, id *token.Identity) (string, error) {
	if id.MeetingID != "" {
		return id.MeetingID, nil
	}
	if r.cfg.Meetings == nil {
		return "", nil
	}
	meetingID, ok, err := r.cfg.Meetings.FindMeetingForAttendee(ctx, id.Subject)
	if err != nil {
		return "", errors.Resolution(fmt.Sprintf("meeting lookup for %q failed", id.Subject), err)
	}
	if !ok {
		return "", nil
	}
	return meetingID, nil
}

// FallbackKeyPrefix keeps meeting keys apart from account keys.
const FallbackKeyPrefix = "meeting-"

// FallbackKey derives the shared provisioning key for a meeting. It is
// stable across calls and processes and never equals an account key.
func FallbackKey(meetingID string) string {
	return FallbackKeyPrefix + meetingID
}

// IsFallbackKey reports whether key belongs to a meeting.
func IsFallbackKey(key string) bool {
	return strings.HasPrefix(key, FallbackKeyPrefix)
}

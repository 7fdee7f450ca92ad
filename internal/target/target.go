// Package target defines backend endpoints that the router relays to.
//
// A Target is a tagged union: either a TCP endpoint (host and port) or a
// local socket path. Targets are small immutable values and are safe to
// copy, compare with ==, and use as map keys.
package target

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
)

// Kind distinguishes the two target variants.
type Kind int

const (
	KindNone Kind = iota
	KindTCP
	KindLocal
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindLocal:
		return "unix"
	default:
		return "none"
	}
}

// Target is a backend endpoint. The zero value is not a valid target.
type Target struct {
	kind Kind
	host string
	port int
	path string
}

// TCP returns a TCP target.
func TCP(host string, port int) Target {
	return Target{kind: KindTCP, host: host, port: port}
}

// Local returns a local socket target.
func Local(path string) Target {
	return Target{kind: KindLocal, path: path}
}

// Kind returns the target variant.
func (t Target) Kind() Kind { return t.kind }

// IsZero reports whether t is the zero Target.
func (t Target) IsZero() bool { return t.kind == KindNone }

// Host returns the TCP host, or "" for local targets.
func (t Target) Host() string { return t.host }

// Port returns the TCP port, or 0 for local targets.
func (t Target) Port() int { return t.port }

// Path returns the socket path, or "" for TCP targets.
func (t Target) Path() string { return t.path }

// Network returns the net.Dial network name.
func (t Target) Network() string {
	return t.kind.String()
}

// Address returns the net.Dial address.
func (t Target) Address() string {
	switch t.kind {
	case KindTCP:
		return net.JoinHostPort(t.host, strconv.Itoa(t.port))
	case KindLocal:
		return t.path
	default:
		return ""
	}
}

// String renders the target as tcp://host:port or unix:///path.
func (t Target) String() string {
	switch t.kind {
	case KindTCP:
		return "tcp://" + t.Address()
	case KindLocal:
		return "unix://" + t.path
	default:
		return "<none>"
	}
}

// Validate checks that the target is well formed.
func (t Target) Validate() error {
	switch t.kind {
	case KindTCP:
		if t.host == "" {
			return fmt.Errorf("tcp target requires a host")
		}
		if t.port < 1 || t.port > 65535 {
			return fmt.Errorf("tcp port %d out of range", t.port)
		}
	case KindLocal:
		if !filepath.IsAbs(t.path) {
			return fmt.Errorf("socket path must be absolute (got %q)", t.path)
		}
	default:
		return fmt.Errorf("empty target")
	}
	return nil
}

// Parse accepts tcp://host:port, unix:///path, host:port, or an absolute path.
func Parse(s string) (Target, error) {
	s = strings.TrimSpace(s)
	var t Target
	switch {
	case strings.HasPrefix(s, "unix://"):
		t = Local(strings.TrimPrefix(s, "unix://"))
	case strings.HasPrefix(s, "tcp://"):
		var err error
		if t, err = parseHostPort(strings.TrimPrefix(s, "tcp://")); err != nil {
			return Target{}, err
		}
	case strings.HasPrefix(s, "/"):
		t = Local(s)
	default:
		var err error
		if t, err = parseHostPort(s); err != nil {
			return Target{}, err
		}
	}
	if err := t.Validate(); err != nil {
		return Target{}, fmt.Errorf("invalid target %q: %w", s, err)
	}
	return t, nil
}

func parseHostPort(s string) (Target, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Target{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return TCP(host, port), nil
}

// MarshalText implements encoding.TextMarshaler.
func (t Target) MarshalText() ([]byte, error) {
	if t.IsZero() {
		return []byte{}, nil
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so targets can be
// used directly in TOML and JSON documents.
func (t *Target) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = Target{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Dialer opens connections to targets.
type Dialer struct {
	net.Dialer
}

// Dial connects to t.
func (d *Dialer) Dial(ctx context.Context, t Target) (net.Conn, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return d.DialContext(ctx, t.Network(), t.Address())
}

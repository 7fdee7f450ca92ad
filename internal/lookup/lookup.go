// Package lookup maps verified identities to backend routing data.
//
// A Mapping names either a direct RFB port or an account whose desktop
// must be provisioned. Absence is not an error: implementations return the
// zero Mapping with Found=false, and reserve errors for an unreachable or
// failing source.
package lookup

import (
	"context"
	"fmt"
)

// Mapping is the routing data for one identity.
type Mapping struct {
	DirectPort int    `json:"port,omitempty"`
	Account    string `json:"account,omitempty"`
	Found      bool   `json:"found"`
}

// HasDirectPort reports whether the mapping routes straight to a port.
func (m Mapping) HasDirectPort() bool { return m.Found && m.DirectPort > 0 }

// HasAccount reports whether the mapping names an account to provision.
func (m Mapping) HasAccount() bool { return m.Found && m.Account != "" }

// Lookup resolves an identity subject.
type Lookup interface {
	Lookup(ctx context.Context, subject string) (Mapping, error)
}

// Chain consults each Lookup in order and returns the first mapping found.
// An error from any member stops the chain.
type Chain []Lookup

// Lookup implements Lookup.
func (c Chain) Lookup(ctx context.Context, subject string) (Mapping, error) {
	for i, l := range c {
		m, err := l.Lookup(ctx, subject)
		if err != nil {
			return Mapping{}, fmt.Errorf("lookup source %d: %w", i, err)
		}
		if m.Found {
			return m, nil
		}
	}
	return Mapping{}, nil
}

// Func adapts a function to Lookup.
type Func func(ctx context.Context, subject string) (Mapping, error)

// Lookup implements Lookup.
func (f Func) Lookup(ctx context.Context, subject string) (Mapping, error) {
	return f(ctx, subject)
}

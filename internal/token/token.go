// Package token verifies and mints the signed identity tokens carried by
// inbound viewer connections.
//
// Tokens are HMAC-signed JWTs. The subject claim names the viewer; an
// optional meetingID claim names the meeting the viewer was admitted to.
// Signatures are always verified. Unsigned tokens are rejected.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
)

// DefaultLeeway is the clock skew tolerated on exp and nbf.
const DefaultLeeway = 30 * time.Second

var validMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// Claims are the claims vncgate reads from an identity token.
type Claims struct {
	MeetingID string `json:"meetingID,omitempty"`
	jwt.RegisteredClaims
}

// Identity is a verified token.
type Identity struct {
	Subject   string
	MeetingID string
	ExpiresAt time.Time
}

// Verifier checks token signatures against a shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a verifier. A zero leeway selects DefaultLeeway.
func NewVerifier(secret []byte, leeway time.Duration) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.ConfigError("token secret is empty", nil)
	}
	if leeway == 0 {
		leeway = DefaultLeeway
	}
	return &Verifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods(validMethods),
			jwt.WithLeeway(leeway),
		),
	}, nil
}

// Verify parses raw and returns the identity it carries. Every failure is
// an authentication error.
func (v *Verifier) Verify(raw string) (*Identity, error) {
	if raw == "" {
		return nil, errors.Authentication("missing token", nil)
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.Authentication("invalid token", err)
	}
	if claims.Subject == "" {
		return nil, errors.Authentication("token has no subject", nil)
	}

	id := &Identity{
		Subject:   claims.Subject,
		MeetingID: claims.MeetingID,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Issuer mints tokens. It exists for the token command and for tests.
type Issuer struct {
	secret []byte
	method jwt.SigningMethod
	now    func() time.Time
}

// NewIssuer creates an issuer signing with HS256.
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret, method: jwt.SigningMethodHS256, now: time.Now}
}

// WithMethod selects the HMAC variant by name (HS256, HS384 or HS512).
func (i *Issuer) WithMethod(alg string) (*Issuer, error) {
	m, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, errors.ValidationError(fmt.Sprintf("unsupported signing method %q", alg))
	}
	cp := *i
	cp.method = m
	return &cp, nil
}

// Issue signs a token for subject. A zero ttl produces a token without exp.
func (i *Issuer) Issue(subject, meetingID string, ttl time.Duration) (string, error) {
	if len(i.secret) == 0 {
		return "", errors.ConfigError("token secret is empty", nil)
	}
	if subject == "" {
		return "", errors.ValidationError("subject is required")
	}

	now := i.now()
	claims := Claims{
		MeetingID: meetingID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

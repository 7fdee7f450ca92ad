package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
)

var testSecret = []byte("s3cret")

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret, time.Second)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestNewVerifier_EmptySecret(t *testing.T) {
	_, err := NewVerifier(nil, 0)
	if !errors.IsKind(err, errors.KindConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestIssueVerify(t *testing.T) {
	for _, alg := range []string{"HS256", "HS384", "HS512"} {
		t.Run(alg, func(t *testing.T) {
			iss, err := NewIssuer(testSecret).WithMethod(alg)
			if err != nil {
				t.Fatalf("WithMethod: %v", err)
			}
			raw, err := iss.Issue("alice", "m1", time.Hour)
			if err != nil {
				t.Fatalf("Issue: %v", err)
			}

			id, err := newVerifier(t).Verify(raw)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if id.Subject != "alice" {
				t.Errorf("Subject = %q, want alice", id.Subject)
			}
			if id.MeetingID != "m1" {
				t.Errorf("MeetingID = %q, want m1", id.MeetingID)
			}
			if id.ExpiresAt.IsZero() {
				t.Error("ExpiresAt should be set")
			}
		})
	}
}

func TestWithMethod_Unsupported(t *testing.T) {
	for _, alg := range []string{"RS256", "none", "bogus"} {
		if _, err := NewIssuer(testSecret).WithMethod(alg); err == nil {
			t.Errorf("WithMethod(%q) expected error", alg)
		}
	}
}

func TestVerify_Rejects(t *testing.T) {
	v := newVerifier(t)

	wrongKey, _ := NewIssuer([]byte("other")).Issue("alice", "", time.Hour)

	expiredIssuer := NewIssuer(testSecret)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredIssuer.Issue("alice", "", time.Hour)

	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString(testSecret)

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"wrong key", wrongKey},
		{"expired", expired},
		{"no subject", noSub},
		{"alg none", unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.raw)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.IsKind(err, errors.KindAuthentication) {
				t.Errorf("kind = %s, want authentication (%v)", errors.KindOf(err), err)
			}
		})
	}
}

func TestVerify_NoExpiry(t *testing.T) {
	raw, err := NewIssuer(testSecret).Issue("bob", "", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	id, err := newVerifier(t).Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !id.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero", id.ExpiresAt)
	}
}

func TestIssue_Validation(t *testing.T) {
	if _, err := NewIssuer(testSecret).Issue("", "", 0); err == nil {
		t.Error("expected error for empty subject")
	}
	if _, err := NewIssuer(nil).Issue("alice", "", 0); err == nil {
		t.Error("expected error for empty secret")
	}
}

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("test-signing-key-0123456789")

func newTestIssuer(t *testing.T, ttl time.Duration) *TokenIssuer {
	t.Helper()
	iss, err := NewTokenIssuer(testKey, "sessiond", ttl)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return iss
}

func TestTokenIssueDecodeRoundTrip(t *testing.T) {
	iss := newTestIssuer(t, 15*time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	token, exp, err := iss.Issue("acct-1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", exp)
	}
	sub, err := iss.Decode(token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if sub != "acct-1" {
		t.Fatalf("subject = %q", sub)
	}
}

func TestTokenExpiryInstantIsExpired(t *testing.T) {
	iss := newTestIssuer(t, time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	token, exp, err := iss.Issue("acct-1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := iss.Decode(token, exp.Add(-time.Second)); err != nil {
		t.Fatalf("token should be valid one second before expiry: %v", err)
	}
	if _, err := iss.Decode(token, exp); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at expiry instant, got %v", err)
	}
}

func TestTokenDecodeRejectsTampering(t *testing.T) {
	iss := newTestIssuer(t, time.Minute)
	now := time.Now()
	token, _, err := iss.Issue("acct-1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, err := NewTokenIssuer([]byte("a-different-signing-key-42"), "sessiond", time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	foreign, _, _ := other.Issue("acct-1", now)

	claims := jwt.RegisteredClaims{
		Issuer:    "sessiond",
		Subject:   "acct-1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign HS512: %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: "sessiond", Subject: "acct-1"}).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign without exp: %v", err)
	}
	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer: "elsewhere", Subject: "acct-1", ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign wrong issuer: %v", err)
	}

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-token",
		"truncated":      token[:len(token)-4],
		"foreign key":    foreign,
		"hs512":          hs512,
		"alg none":       none,
		"missing exp":    noExp,
		"wrong issuer":   wrongIssuer,
		"flipped header": "x" + token[1:],
	}
	for name, tok := range cases {
		if _, err := iss.Decode(tok, now); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("%s: expected ErrTokenMalformed, got %v", name, err)
		}
	}
}

func TestNewTokenIssuerValidatesInput(t *testing.T) {
	if _, err := NewTokenIssuer([]byte("short"), "sessiond", time.Minute); err == nil {
		t.Fatal("expected short key to be rejected")
	}
	if _, err := NewTokenIssuer(testKey, "sessiond", 0); err == nil {
		t.Fatal("expected zero ttl to be rejected")
	}
	iss := newTestIssuer(t, time.Minute)
	if _, _, err := iss.Issue("  ", time.Now()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank subject, got %v", err)
	}
}

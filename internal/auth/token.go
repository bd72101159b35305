package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"photoshare.io/sessiond/internal/ids"
)

// minSigningKeyBytes is the HS256 key floor enforced outside tests.
const minSigningKeyBytes = 16

// AccessClaims is the claim set carried by an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// TokenIssuer mints and decodes stateless HS256 access tokens. The key is
// fixed at construction and never mutated.
type TokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

// NewTokenIssuer returns an issuer signing with key. The key is copied.
func NewTokenIssuer(key []byte, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if len(key) < minSigningKeyBytes {
		return nil, fmt.Errorf("auth: signing key must be at least %d bytes", minSigningKeyBytes)
	}
	if ttl <= 0 {
		return nil, errors.New("auth: access token ttl must be positive")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &TokenIssuer{
		key:    k,
		issuer: strings.TrimSpace(issuer),
		ttl:    ttl,
	}, nil
}

// TTL returns the configured access token lifetime.
func (i *TokenIssuer) TTL() time.Duration { return i.ttl }

// Issue signs an access token for accountID. The returned expiry is the
// exact instant encoded in the token (second precision).
func (i *TokenIssuer) Issue(accountID string, now time.Time) (string, time.Time, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", time.Time{}, ErrInvalidInput
	}
	issuedAt := jwt.NewNumericDate(now.UTC())
	expiresAt := jwt.NewNumericDate(now.UTC().Add(i.ttl))
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   accountID,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
			ID:        ids.New(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt.Time, nil
}

// Decode verifies token against the signing key and returns its subject.
// It never touches storage. Expiry is checked as now >= exp, the golang-jwt
// rule also used by the refresh ledger, so a token is already
// ErrTokenExpired at its exp instant and not only after it.
func (i *TokenIssuer) Decode(token string, now time.Time) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrTokenMalformed
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	var claims AccessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return i.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenMalformed
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrTokenMalformed
	}
	return claims.Subject, nil
}

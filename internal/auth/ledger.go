package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"photoshare.io/sessiond/internal/ids"
)

const refreshSecretBytes = 48

// RefreshLedger issues, validates, rotates and revokes opaque refresh tokens.
// Validity is never self-evident: every check goes through the store.
type RefreshLedger struct {
	store RefreshTokenStore
	ttl   time.Duration
}

// NewRefreshLedger returns a ledger whose tokens live for ttl.
func NewRefreshLedger(store RefreshTokenStore, ttl time.Duration) (*RefreshLedger, error) {
	if store == nil {
		return nil, errors.New("auth: refresh token store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: refresh token ttl must be positive")
	}
	return &RefreshLedger{store: store, ttl: ttl}, nil
}

// TTL returns the refresh token lifetime.
func (l *RefreshLedger) TTL() time.Duration { return l.ttl }

// Issue creates and persists a fresh token for accountID.
func (l *RefreshLedger) Issue(ctx context.Context, accountID string, now time.Time) (*RefreshToken, error) {
	tok, err := l.mint(accountID, now)
	if err != nil {
		return nil, err
	}
	if err := l.store.Create(ctx, tok); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return tok, nil
}

// Validate looks secret up and checks it is neither revoked nor expired.
func (l *RefreshLedger) Validate(ctx context.Context, secret string, now time.Time) (*RefreshToken, error) {
	tok, err := l.lookup(ctx, secret)
	if err != nil {
		return nil, err
	}
	switch {
	case tok.Revoked():
		return nil, ErrTokenRevoked
	case !tok.ExpiresAt.After(now):
		return nil, ErrTokenExpired
	}
	return tok, nil
}

// Rotate atomically revokes old and issues its successor for the same
// account. A concurrent rotation or revocation of old makes this call fail
// with ErrTokenRevoked; nothing is written in that case.
func (l *RefreshLedger) Rotate(ctx context.Context, old *RefreshToken, now time.Time) (*RefreshToken, error) {
	if old == nil || old.ID == "" {
		return nil, ErrInvalidInput
	}
	next, err := l.mint(old.AccountID, now)
	if err != nil {
		return nil, err
	}
	if err := l.store.Rotate(ctx, old.ID, now, next); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return next, nil
}

// Revoke is the logout path. Revoking an already revoked token fails with
// ErrAlreadyRevoked so callers can tell it apart from an unknown token.
func (l *RefreshLedger) Revoke(ctx context.Context, secret string, now time.Time) (*RefreshToken, error) {
	tok, err := l.lookup(ctx, secret)
	if err != nil {
		return nil, err
	}
	if tok.Revoked() {
		return nil, ErrAlreadyRevoked
	}
	if err := l.store.Revoke(ctx, tok.ID, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	at := now
	tok.RevokedAt = &at
	return tok, nil
}

func (l *RefreshLedger) lookup(ctx context.Context, secret string) (*RefreshToken, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrTokenNotFound
	}
	tok, err := l.store.FindByHash(ctx, HashRefreshSecret(secret))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return tok, nil
}

func (l *RefreshLedger) mint(accountID string, now time.Time) (*RefreshToken, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, ErrInvalidInput
	}
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	now = now.UTC()
	return &RefreshToken{
		ID:        ids.New(),
		AccountID: accountID,
		Secret:    secret,
		TokenHash: HashRefreshSecret(secret),
		IssuedAt:  now,
		ExpiresAt: now.Add(l.ttl),
	}, nil
}

// HashRefreshSecret returns the storage digest of a refresh secret.
func HashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

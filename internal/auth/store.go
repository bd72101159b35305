package auth

import (
	"context"
	"time"
)

// AccountStore persists accounts. Find* return ErrNotFound when absent and
// Create returns ErrAccountExists on a username or email clash.
type AccountStore interface {
	Create(ctx context.Context, acc *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	Count(ctx context.Context) (int64, error)
	SetActive(ctx context.Context, id string, active bool, at time.Time) (*Account, error)
	// Deactivate clears the active flag and revokes every live refresh
	// token of the account in one transaction, returning how many tokens
	// it revoked. On error nothing is written.
	Deactivate(ctx context.Context, id string, at time.Time) (*Account, int64, error)
	SetRole(ctx context.Context, id string, role Role, at time.Time) (*Account, error)
}

// RefreshTokenStore persists refresh tokens. Rows are never deleted and the
// only mutation is setting revoked_at, which must be a conditional write.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	// FindByHash returns ErrNotFound when no row carries hash.
	FindByHash(ctx context.Context, hash string) (*RefreshToken, error)
	// Revoke sets revoked_at on a live row. It returns ErrAlreadyRevoked
	// when revoked_at was already set and ErrNotFound for an unknown id.
	Revoke(ctx context.Context, id string, at time.Time) error
	// Rotate revokes id and inserts next in one transaction. Only a row
	// that is unrevoked and unexpired at the given instant can be rotated;
	// otherwise ErrTokenRevoked, ErrTokenExpired or ErrNotFound is
	// returned and nothing is written.
	Rotate(ctx context.Context, id string, at time.Time, next *RefreshToken) error
}

// Store bundles both stores.
type Store interface {
	Accounts() AccountStore
	RefreshTokens() RefreshTokenStore
}

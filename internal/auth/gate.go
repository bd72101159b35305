package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gate turns a bearer access token into an authorized Account. It only
// reads: neither accounts nor refresh tokens are mutated.
type Gate struct {
	issuer   *TokenIssuer
	accounts AccountStore
}

// NewGate builds the per-request authorization check.
func NewGate(issuer *TokenIssuer, accounts AccountStore) *Gate {
	return &Gate{issuer: issuer, accounts: accounts}
}

// Authorize runs the checks in order and stops at the first failure:
// token decode, account load, active flag, role membership. An inactive
// account is rejected even when its role would satisfy required.
func (g *Gate) Authorize(ctx context.Context, bearer string, required RoleSet, now time.Time) (*Account, error) {
	subject, err := g.issuer.Decode(bearer, now)
	if err != nil {
		return nil, err
	}
	acc, err := g.accounts.Find(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !acc.Active {
		return nil, ErrAccountBanned
	}
	if !required.Allows(acc.Role) {
		return nil, ErrInsufficientRole
	}
	return acc, nil
}

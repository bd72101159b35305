package auth

import (
	"strings"
	"time"
)

// Role is the coarse permission tier attached to an Account.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ParseRole normalises s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// RoleSet is the fixed set of roles a route accepts. The empty set accepts
// any active account.
type RoleSet map[Role]struct{}

// Roles builds a RoleSet. It panics on an unknown role because role sets are
// declared once at router construction.
func Roles(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if !r.Valid() {
			panic("auth: unknown role " + string(r))
		}
		set[r] = struct{}{}
	}
	return set
}

// Allows reports whether r satisfies the set.
func (s RoleSet) Allows(r Role) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[r]
	return ok
}

// Account is the identity record. Accounts are never deleted; Active=false
// disables them.
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RefreshToken is a persisted session credential. Secret is only populated
// on the value returned at issuance; storage keeps the SHA-256 digest.
type RefreshToken struct {
	ID        string
	AccountID string
	Secret    string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Revoked reports whether the token reached the revoked terminal state.
func (t *RefreshToken) Revoked() bool { return t.RevokedAt != nil }

// ValidAt reports whether the token can still be redeemed at now.
func (t *RefreshToken) ValidAt(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// Session is what login and refresh hand back to the client.
type Session struct {
	AccountID        string    `json:"-"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

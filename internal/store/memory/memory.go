package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"photoshare.io/sessiond/internal/auth"
)

// InMemory implements auth.Store with in-process concurrency safety. It
// backs tests and AUTH_STORAGE=memory; state is lost on restart.
type InMemory struct {
	mu         sync.RWMutex
	accts      map[string]*auth.Account
	byUsername map[string]string
	byEmail    map[string]string
	tokens     map[string]*auth.RefreshToken
	byHash     map[string]string
}

var _ auth.Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		accts:      make(map[string]*auth.Account),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		tokens:     make(map[string]*auth.RefreshToken),
		byHash:     make(map[string]string),
	}
}

func (s *InMemory) Accounts() auth.AccountStore { return accounts{s} }

func (s *InMemory) RefreshTokens() auth.RefreshTokenStore { return refreshTokens{s} }

// Ping always succeeds.
func (s *InMemory) Ping(context.Context) error { return nil }

// Tokens returns copies of every refresh token of accountID.
func (s *InMemory) Tokens(accountID string) []auth.RefreshToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.RefreshToken
	for _, t := range s.tokens {
		if t.AccountID == accountID {
			out = append(out, copyToken(t))
		}
	}
	return out
}

type accounts struct{ s *InMemory }

func (a accounts) Create(_ context.Context, acc *auth.Account) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	uname := strings.ToLower(acc.Username)
	email := strings.ToLower(acc.Email)
	if _, ok := s.accts[acc.ID]; ok {
		return auth.ErrAccountExists
	}
	if _, ok := s.byUsername[uname]; ok {
		return auth.ErrAccountExists
	}
	if _, ok := s.byEmail[email]; ok {
		return auth.ErrAccountExists
	}
	cp := *acc
	s.accts[acc.ID] = &cp
	s.byUsername[uname] = acc.ID
	s.byEmail[email] = acc.ID
	return nil
}

func (a accounts) Find(_ context.Context, id string) (*auth.Account, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	acc, ok := a.s.accts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := *acc
	return &out, nil
}

func (a accounts) FindByUsername(ctx context.Context, username string) (*auth.Account, error) {
	a.s.mu.RLock()
	id, ok := a.s.byUsername[strings.ToLower(strings.TrimSpace(username))]
	a.s.mu.RUnlock()
	if !ok {
		return nil, auth.ErrNotFound
	}
	return a.Find(ctx, id)
}

func (a accounts) Count(context.Context) (int64, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return int64(len(a.s.accts)), nil
}

func (a accounts) SetActive(_ context.Context, id string, active bool, at time.Time) (*auth.Account, error) {
	return a.update(id, at, func(acc *auth.Account) { acc.Active = active })
}

// Deactivate flips the flag and revokes tokens under one write lock.
func (a accounts) Deactivate(_ context.Context, id string, at time.Time) (*auth.Account, int64, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accts[id]
	if !ok {
		return nil, 0, auth.ErrNotFound
	}
	at = at.UTC()
	acc.Active = false
	acc.UpdatedAt = at
	var n int64
	for _, tok := range s.tokens {
		if tok.AccountID == id && !tok.Revoked() {
			ts := at
			tok.RevokedAt = &ts
			n++
		}
	}
	out := *acc
	return &out, n, nil
}

func (a accounts) SetRole(_ context.Context, id string, role auth.Role, at time.Time) (*auth.Account, error) {
	return a.update(id, at, func(acc *auth.Account) { acc.Role = role })
}

func (a accounts) update(id string, at time.Time, fn func(*auth.Account)) (*auth.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	acc, ok := a.s.accts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	fn(acc)
	acc.UpdatedAt = at.UTC()
	out := *acc
	return &out, nil
}

type refreshTokens struct{ s *InMemory }

func (r refreshTokens) Create(_ context.Context, tok *auth.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertLocked(tok)
}

func (r refreshTokens) FindByHash(_ context.Context, hash string) (*auth.RefreshToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.byHash[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := copyToken(r.s.tokens[id])
	return &out, nil
}

func (r refreshTokens) Revoke(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tok, ok := r.s.tokens[id]
	if !ok {
		return auth.ErrNotFound
	}
	if tok.Revoked() {
		return auth.ErrAlreadyRevoked
	}
	revokedAt := at.UTC()
	tok.RevokedAt = &revokedAt
	return nil
}

// Rotate checks and mutates under one write lock, the in-process analogue
// of the conditional update in the postgres store.
func (r refreshTokens) Rotate(_ context.Context, id string, at time.Time, next *auth.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tok, ok := r.s.tokens[id]
	switch {
	case !ok:
		return auth.ErrNotFound
	case tok.Revoked():
		return auth.ErrTokenRevoked
	case !tok.ExpiresAt.After(at):
		return auth.ErrTokenExpired
	}
	if _, dup := r.s.tokens[next.ID]; dup {
		return auth.ErrInvalidInput
	}
	if _, dup := r.s.byHash[next.TokenHash]; dup {
		return auth.ErrInvalidInput
	}
	revokedAt := at.UTC()
	tok.RevokedAt = &revokedAt
	return r.s.insertLocked(next)
}

func (s *InMemory) insertLocked(tok *auth.RefreshToken) error {
	if _, ok := s.tokens[tok.ID]; ok {
		return auth.ErrInvalidInput
	}
	if _, ok := s.byHash[tok.TokenHash]; ok {
		return auth.ErrInvalidInput
	}
	cp := copyToken(tok)
	cp.Secret = ""
	s.tokens[tok.ID] = &cp
	s.byHash[tok.TokenHash] = tok.ID
	return nil
}

func copyToken(t *auth.RefreshToken) auth.RefreshToken {
	out := *t
	if t.RevokedAt != nil {
		at := *t.RevokedAt
		out.RevokedAt = &at
	}
	return out
}

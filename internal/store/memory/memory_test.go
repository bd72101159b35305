package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"photoshare.io/sessiond/internal/auth"
)

func seedToken(t *testing.T, s *InMemory, id string, now time.Time) {
	t.Helper()
	tok := &auth.RefreshToken{ID: id, AccountID: "a1", Secret: "secret-" + id, TokenHash: "hash-" + id, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := s.RefreshTokens().Create(context.Background(), tok); err != nil {
		t.Fatal(err)
	}
}

func TestAccountUniqueness(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := s.Accounts().Create(ctx, &auth.Account{ID: "a1", Username: "Alice", Email: "alice@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Accounts().Create(ctx, &auth.Account{ID: "a2", Username: "alice", Email: "other@example.com"}); !errors.Is(err, auth.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists for username clash, got %v", err)
	}
	if err := s.Accounts().Create(ctx, &auth.Account{ID: "a3", Username: "bob", Email: "ALICE@example.com"}); !errors.Is(err, auth.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists for email clash, got %v", err)
	}
	acc, err := s.Accounts().FindByUsername(ctx, "ALICE")
	if err != nil || acc.ID != "a1" {
		t.Fatalf("FindByUsername: %v %+v", err, acc)
	}
}

func TestStoredTokenDropsSecret(t *testing.T) {
	s := NewInMemory()
	now := time.Now()
	seedToken(t, s, "t1", now)
	tok, err := s.RefreshTokens().FindByHash(context.Background(), "hash-t1")
	if err != nil {
		t.Fatal(err)
	}
	if tok.Secret != "" {
		t.Fatalf("secret must not be stored, got %q", tok.Secret)
	}
}

func TestRevokeTwice(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	now := time.Now()
	seedToken(t, s, "t1", now)
	if err := s.RefreshTokens().Revoke(ctx, "t1", now); err != nil {
		t.Fatal(err)
	}
	if err := s.RefreshTokens().Revoke(ctx, "t1", now); !errors.Is(err, auth.ErrAlreadyRevoked) {
		t.Fatalf("expected ErrAlreadyRevoked, got %v", err)
	}
	if err := s.RefreshTokens().Revoke(ctx, "nope", now); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateExpired(t *testing.T) {
	s := NewInMemory()
	now := time.Now()
	seedToken(t, s, "t1", now)
	next := &auth.RefreshToken{ID: "t2", AccountID: "a1", TokenHash: "hash-t2", IssuedAt: now, ExpiresAt: now.Add(2 * time.Hour)}
	err := s.RefreshTokens().Rotate(context.Background(), "t1", now.Add(time.Hour), next)
	if !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at the expiry instant, got %v", err)
	}
	if len(s.Tokens("a1")) != 1 {
		t.Fatalf("failed rotation must not insert a successor")
	}
}

func TestConcurrentRotate(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	now := time.Now()
	seedToken(t, s, "t0", now)

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		revoked  int
		failures []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := &auth.RefreshToken{
				ID:        fmt.Sprintf("n%d", i),
				AccountID: "a1",
				TokenHash: fmt.Sprintf("hash-n%d", i),
				IssuedAt:  now,
				ExpiresAt: now.Add(time.Hour),
			}
			err := s.RefreshTokens().Rotate(ctx, "t0", now, next)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, auth.ErrTokenRevoked):
				revoked++
			default:
				failures = append(failures, err)
			}
		}(i)
	}
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("unexpected errors: %v", failures)
	}
	if wins != 1 || revoked != workers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d revoked=%d", wins, revoked)
	}
	live := 0
	for _, tok := range s.Tokens("a1") {
		if tok.ValidAt(now) {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly one live successor, got %d", live)
	}
}

func TestDeactivateRevokesLiveTokens(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	now := time.Now()
	if err := s.Accounts().Create(ctx, &auth.Account{ID: "a1", Username: "alice", Email: "alice@example.com", Active: true}); err != nil {
		t.Fatal(err)
	}
	seedToken(t, s, "t1", now)
	seedToken(t, s, "t2", now)
	if err := s.RefreshTokens().Revoke(ctx, "t1", now); err != nil {
		t.Fatal(err)
	}
	acc, n, err := s.Accounts().Deactivate(ctx, "a1", now)
	if err != nil {
		t.Fatal(err)
	}
	if acc.Active || n != 1 {
		t.Fatalf("expected inactive account and one newly revoked token, got active=%v n=%d", acc.Active, n)
	}
	for _, tok := range s.Tokens("a1") {
		if !tok.Revoked() {
			t.Fatalf("token %s still live", tok.ID)
		}
	}
	if _, _, err := s.Accounts().Deactivate(ctx, "ghost", now); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"photoshare.io/sessiond/internal/auth"
)

type refreshTokenStore struct{ db *sql.DB }

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *refreshTokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	return insertRefreshToken(ctx, s.db, tok)
}

func (s *refreshTokenStore) FindByHash(ctx context.Context, hash string) (*auth.RefreshToken, error) {
	var (
		tok     auth.RefreshToken
		revoked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, account_id, token_hash, issued_at, expires_at, revoked_at
		from refresh_tokens
		where token_hash = $1
	`, hash).Scan(&tok.ID, &tok.AccountID, &tok.TokenHash, &tok.IssuedAt, &tok.ExpiresAt, &revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	if revoked.Valid {
		at := revoked.Time
		tok.RevokedAt = &at
	}
	return &tok, nil
}

// Revoke only touches rows whose revoked_at is still null, so two racing
// revocations cannot both report success.
func (s *refreshTokenStore) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2
		where id = $1 and revoked_at is null
	`, id, at.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from refresh_tokens where id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return auth.ErrAlreadyRevoked
	}
	return auth.ErrNotFound
}

// Rotate revokes id with a conditional update and inserts next in the same
// transaction. The row lock taken by the update serialises concurrent
// rotations: the loser sees revoked_at already set and affects no rows.
func (s *refreshTokenStore) Rotate(ctx context.Context, id string, at time.Time, next *auth.RefreshToken) error {
	if next == nil {
		return errors.New("successor token is required")
	}
	at = at.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2
		where id = $1 and revoked_at is null and expires_at > $2
	`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rotateMiss(ctx, tx, id)
	}
	if err := insertRefreshToken(ctx, tx, next); err != nil {
		return fmt.Errorf("insert successor: %w", err)
	}
	return tx.Commit()
}

func rotateMiss(ctx context.Context, q execer, id string) error {
	var revoked sql.NullTime
	err := q.QueryRowContext(ctx, `select revoked_at from refresh_tokens where id = $1`, id).Scan(&revoked)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return auth.ErrNotFound
	case err != nil:
		return err
	case revoked.Valid:
		return auth.ErrTokenRevoked
	}
	return auth.ErrTokenExpired
}

func insertRefreshToken(ctx context.Context, q execer, tok *auth.RefreshToken) error {
	_, err := q.ExecContext(ctx, `
		insert into refresh_tokens (id, account_id, token_hash, issued_at, expires_at)
		values ($1, $2, $3, $4, $5)
	`, tok.ID, tok.AccountID, tok.TokenHash, tok.IssuedAt.UTC(), tok.ExpiresAt.UTC())
	return err
}

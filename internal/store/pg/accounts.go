package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"photoshare.io/sessiond/internal/auth"
)

const accountColumns = `id, username, email, password_hash, role, active, created_at, updated_at`

type accountStore struct{ db *sql.DB }

func (s *accountStore) Create(ctx context.Context, acc *auth.Account) error {
	_, err := s.db.ExecContext(ctx, `
		insert into accounts (id, username, email, password_hash, role, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, acc.ID, acc.Username, acc.Email, acc.PasswordHash, string(acc.Role), acc.Active, acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrAccountExists
		}
		return err
	}
	return nil
}

func (s *accountStore) Find(ctx context.Context, id string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id = $1`, id)
	return scanAccount(row)
}

func (s *accountStore) FindByUsername(ctx context.Context, username string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where lower(username) = lower($1)`, strings.TrimSpace(username))
	return scanAccount(row)
}

func (s *accountStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `select count(*) from accounts`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *accountStore) SetActive(ctx context.Context, id string, active bool, at time.Time) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		update accounts set active = $2, updated_at = $3
		where id = $1
		returning `+accountColumns, id, active, at.UTC())
	return scanAccount(row)
}

// Deactivate clears the flag and revokes the account's live refresh tokens
// in one transaction.
func (s *accountStore) Deactivate(ctx context.Context, id string, at time.Time) (*auth.Account, int64, error) {
	at = at.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	acc, err := scanAccount(tx.QueryRowContext(ctx, `
		update accounts set active = false, updated_at = $2
		where id = $1
		returning `+accountColumns, id, at))
	if err != nil {
		return nil, 0, err
	}
	res, err := tx.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2
		where account_id = $1 and revoked_at is null
	`, id, at)
	if err != nil {
		return nil, 0, fmt.Errorf("revoke account tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	return acc, n, nil
}

func (s *accountStore) SetRole(ctx context.Context, id string, role auth.Role, at time.Time) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		update accounts set role = $2, updated_at = $3
		where id = $1
		returning `+accountColumns, id, string(role), at.UTC())
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*auth.Account, error) {
	var (
		acc  auth.Account
		role string
	)
	if err := row.Scan(&acc.ID, &acc.Username, &acc.Email, &acc.PasswordHash, &role, &acc.Active, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	acc.Role = auth.Role(role)
	return &acc, nil
}

package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"photoshare.io/sessiond/internal/auth"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestAccountCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	acc := &auth.Account{ID: "a1", Username: "alice", Email: "alice@example.com", PasswordHash: "h", Role: auth.RoleUser, Active: true, CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec("insert into accounts").
		WithArgs("a1", "alice", "alice@example.com", "h", "user", true, now, now).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.Accounts().Create(context.Background(), acc)
	if !errors.Is(err, auth.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountFindByUsername(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "role", "active", "created_at", "updated_at"}).
		AddRow("a1", "alice", "alice@example.com", "h", "moderator", true, now, now)
	mock.ExpectQuery("select .* from accounts where lower\\(username\\) = lower\\(\\$1\\)").WithArgs("alice").WillReturnRows(rows)

	acc, err := store.Accounts().FindByUsername(context.Background(), " alice ")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if acc.ID != "a1" || acc.Role != auth.RoleModerator || !acc.Active {
		t.Fatalf("unexpected account: %+v", acc)
	}

	mock.ExpectQuery("select .* from accounts where id = \\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	if _, err := store.Accounts().Find(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountSetActiveReturnsUpdatedRow(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "role", "active", "created_at", "updated_at"}).
		AddRow("a1", "alice", "alice@example.com", "h", "user", false, now, now)
	mock.ExpectQuery("update accounts set active = \\$2").WithArgs("a1", false, now).WillReturnRows(rows)

	acc, err := store.Accounts().SetActive(context.Background(), "a1", false, now)
	if err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if acc.Active {
		t.Fatalf("expected inactive account")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshFindByHashScansRevokedAt(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "account_id", "token_hash", "issued_at", "expires_at", "revoked_at"}).
		AddRow("t1", "a1", "hash", now, now.Add(time.Hour), now)
	mock.ExpectQuery("from refresh_tokens").WithArgs("hash").WillReturnRows(rows)

	tok, err := store.RefreshTokens().FindByHash(context.Background(), "hash")
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if !tok.Revoked() {
		t.Fatalf("expected revoked token")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRotateCommitsRevokeAndInsert(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	next := &auth.RefreshToken{ID: "t2", AccountID: "a1", TokenHash: "h2", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens set revoked_at = \\$2").WithArgs("t1", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into refresh_tokens").WithArgs("t2", "a1", "h2", now, now.Add(time.Hour)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := store.RefreshTokens().Rotate(context.Background(), "t1", now, next); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRotateLosingRaceRollsBack(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	next := &auth.RefreshToken{ID: "t2", AccountID: "a1", TokenHash: "h2", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens set revoked_at = \\$2").WithArgs("t1", now).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select revoked_at from refresh_tokens").WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"revoked_at"}).AddRow(now))
	mock.ExpectRollback()

	err := store.RefreshTokens().Rotate(context.Background(), "t1", now, next)
	if !errors.Is(err, auth.ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRotateExpiredToken(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	next := &auth.RefreshToken{ID: "t2", AccountID: "a1", TokenHash: "h2", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens").WithArgs("t1", now).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select revoked_at from refresh_tokens").WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"revoked_at"}).AddRow(nil))
	mock.ExpectRollback()

	err := store.RefreshTokens().Rotate(context.Background(), "t1", now, next)
	if !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRevokeDistinguishesAlreadyRevoked(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec("update refresh_tokens set revoked_at = \\$2").WithArgs("t1", now).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs("t1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	if err := store.RefreshTokens().Revoke(context.Background(), "t1", now); !errors.Is(err, auth.ErrAlreadyRevoked) {
		t.Fatalf("expected ErrAlreadyRevoked, got %v", err)
	}

	mock.ExpectExec("update refresh_tokens set revoked_at = \\$2").WithArgs("t9", now).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs("t9").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	if err := store.RefreshTokens().Revoke(context.Background(), "t9", now); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeactivateRevokesTokensInOneTransaction(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "role", "active", "created_at", "updated_at"}).
		AddRow("a1", "alice", "alice@example.com", "h", "user", false, now, now)
	mock.ExpectBegin()
	mock.ExpectQuery("update accounts set active = false").WithArgs("a1", now).WillReturnRows(rows)
	mock.ExpectExec("where account_id = \\$1 and revoked_at is null").WithArgs("a1", now).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	acc, n, err := store.Accounts().Deactivate(context.Background(), "a1", now)
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if acc.Active || n != 3 {
		t.Fatalf("expected inactive account and 3 revoked rows, got active=%v n=%d", acc.Active, n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeactivateRollsBackWhenRevokeFails(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "role", "active", "created_at", "updated_at"}).
		AddRow("a1", "alice", "alice@example.com", "h", "user", false, now, now)
	mock.ExpectBegin()
	mock.ExpectQuery("update accounts set active = false").WithArgs("a1", now).WillReturnRows(rows)
	mock.ExpectExec("update refresh_tokens set revoked_at").WithArgs("a1", now).WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	if _, _, err := store.Accounts().Deactivate(context.Background(), "a1", now); err == nil {
		t.Fatal("expected error when token revocation fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeactivateUnknownAccount(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("update accounts set active = false").WithArgs("ghost", now).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if _, _, err := store.Accounts().Deactivate(context.Background(), "ghost", now); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

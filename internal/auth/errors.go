package auth

import "errors"

// Kind groups errors by how the transport boundary should answer them.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is a terminal, user-visible failure of the session subsystem.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: "auth: " + msg}
}

var (
	ErrInvalidInput       = newError(KindInvalidInput, "invalid_input", "invalid input")
	ErrInvalidCredentials = newError(KindInvalidInput, "invalid_credentials", "invalid credentials")
	ErrAccountBanned      = newError(KindForbidden, "account_banned", "account is banned")
	ErrInsufficientRole   = newError(KindForbidden, "insufficient_role", "insufficient role")
	ErrTokenMalformed     = newError(KindUnauthenticated, "token_malformed", "token is malformed")
	ErrTokenExpired       = newError(KindUnauthenticated, "token_expired", "token has expired")
	ErrTokenRevoked       = newError(KindUnauthenticated, "token_revoked", "token has been revoked")
	ErrTokenNotFound      = newError(KindNotFound, "token_not_found", "token not found")
	ErrAlreadyRevoked     = newError(KindInvalidInput, "token_already_revoked", "token already revoked")
	ErrAccountNotFound    = newError(KindUnauthenticated, "account_not_found", "account not found")
	ErrAccountExists      = newError(KindConflict, "account_exists", "account already exists")
	ErrUnknownAccount     = newError(KindNotFound, "unknown_account", "no such account")
	ErrProtectedAccount   = newError(KindForbidden, "protected_account", "admin accounts cannot be deactivated")
	ErrTooManyAttempts    = newError(KindRateLimited, "too_many_attempts", "too many failed login attempts")
)

// ErrNotFound is returned by stores when a row does not exist. The service
// translates it into the domain error that fits the operation.
var ErrNotFound = errors.New("auth: not found")

// KindOf classifies err. Anything that is not an *Error is internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable error code for err, or "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}

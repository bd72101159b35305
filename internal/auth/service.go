package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"photoshare.io/sessiond/internal/ids"
	"photoshare.io/sessiond/internal/obs"
)

// emailRule applies the same validator tag as the HTTP boundary so the
// bootstrap path accepts exactly what registration accepts.
var emailRule = validator.New()

// RefreshPolicy decides what happens to a refresh token when it is redeemed.
type RefreshPolicy string

const (
	// PolicyRotate revokes the presented token and issues a successor.
	PolicyRotate RefreshPolicy = "rotate"
	// PolicyReuse keeps the presented token until it expires or is revoked.
	PolicyReuse RefreshPolicy = "reuse"
)

// ParseRefreshPolicy accepts "rotate" or "reuse"; empty means rotate.
func ParseRefreshPolicy(s string) (RefreshPolicy, error) {
	switch RefreshPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyRotate:
		return PolicyRotate, nil
	case PolicyReuse:
		return PolicyReuse, nil
	}
	return "", fmt.Errorf("auth: unknown refresh policy %q", s)
}

const tokenTypeBearer = "bearer"

// Throttle counts failed logins. Implementations must be safe for
// concurrent use.
type Throttle interface {
	Blocked(ctx context.Context, keys ...string) (bool, error)
	Fail(ctx context.Context, keys ...string) error
	Reset(ctx context.Context, keys ...string) error
}

// Event is a session lifecycle notification.
type Event struct {
	Type      string            `json:"type"`
	AccountID string            `json:"account_id"`
	At        time.Time         `json:"at"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

const (
	EventLogin       = "session.login"
	EventRefresh     = "session.refresh"
	EventLogout      = "session.logout"
	EventRegistered  = "account.registered"
	EventBanned      = "account.banned"
	EventUnbanned    = "account.unbanned"
	EventRoleChanged = "account.role_changed"
)

// EventPublisher delivers events. Delivery failures never fail the
// operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Service composes the password hasher, token issuer, refresh ledger and
// gate into the login, refresh and logout flows plus account
// administration.
type Service struct {
	accounts AccountStore
	hasher   *PasswordHasher
	tokens   *TokenIssuer
	ledger   *RefreshLedger
	gate     *Gate

	now      func() time.Time
	policy   RefreshPolicy
	throttle Throttle
	events   EventPublisher
	log      *slog.Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithRefreshPolicy selects rotate or reuse.
func WithRefreshPolicy(p RefreshPolicy) ServiceOption {
	return func(s *Service) error {
		switch p {
		case PolicyRotate, PolicyReuse:
			s.policy = p
			return nil
		case "":
			return nil
		}
		return fmt.Errorf("auth: unknown refresh policy %q", p)
	}
}

// WithThrottle enables failed-login throttling.
func WithThrottle(t Throttle) ServiceOption {
	return func(s *Service) error {
		s.throttle = t
		return nil
	}
}

// WithEvents enables session event publishing.
func WithEvents(p EventPublisher) ServiceOption {
	return func(s *Service) error {
		s.events = p
		return nil
	}
}

// WithLogger sets the logger used for swallowed side-channel failures.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, hasher *PasswordHasher, tokens *TokenIssuer, refreshTTL time.Duration, opts ...ServiceOption) (*Service, error) {
	if store == nil || hasher == nil || tokens == nil {
		return nil, errors.New("auth: store, hasher and token issuer are required")
	}
	ledger, err := NewRefreshLedger(store.RefreshTokens(), refreshTTL)
	if err != nil {
		return nil, err
	}
	svc := &Service{
		accounts: store.Accounts(),
		hasher:   hasher,
		tokens:   tokens,
		ledger:   ledger,
		gate:     NewGate(tokens, store.Accounts()),
		now:      time.Now,
		policy:   PolicyRotate,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time { return s.now() }

// Policy reports the active refresh policy.
func (s *Service) Policy() RefreshPolicy { return s.policy }

// LoginInput carries submitted credentials. ClientIP is only used for
// throttling and may be empty.
type LoginInput struct {
	Username string
	Password string
	ClientIP string
}

// Login verifies credentials and opens a session. Unknown usernames and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, in LoginInput) (sess *Session, err error) {
	defer func() { s.observe("login", err) }()

	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, ErrInvalidCredentials
	}
	keys := throttleKeys(username, in.ClientIP)
	if s.blocked(ctx, keys) {
		return nil, ErrTooManyAttempts
	}

	acc, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("load account: %w", err)
		}
		s.hasher.Burn(in.Password)
		s.fail(ctx, keys)
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(in.Password, acc.PasswordHash) {
		s.fail(ctx, keys)
		return nil, ErrInvalidCredentials
	}
	if !acc.Active {
		return nil, ErrAccountBanned
	}
	s.reset(ctx, keys)

	now := s.now()
	access, exp, err := s.tokens.Issue(acc.ID, now)
	if err != nil {
		return nil, err
	}
	refresh, err := s.ledger.Issue(ctx, acc.ID, now)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{Type: EventLogin, AccountID: acc.ID, At: now})
	return newSession(acc.ID, access, exp, refresh), nil
}

// Refresh redeems a refresh token for a new access token. Under the rotate
// policy the presented token is revoked and replaced in one atomic step;
// of two concurrent calls with the same token exactly one succeeds.
func (s *Service) Refresh(ctx context.Context, secret string) (sess *Session, err error) {
	defer func() { s.observe("refresh", err) }()

	now := s.now()
	tok, err := s.ledger.Validate(ctx, secret, now)
	if err != nil {
		return nil, err
	}
	acc, err := s.accounts.Find(ctx, tok.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !acc.Active {
		return nil, ErrAccountBanned
	}

	access, exp, err := s.tokens.Issue(acc.ID, now)
	if err != nil {
		return nil, err
	}
	next := tok
	if s.policy == PolicyRotate {
		if next, err = s.ledger.Rotate(ctx, tok, now); err != nil {
			return nil, err
		}
	} else {
		next.Secret = strings.TrimSpace(secret)
	}
	s.publish(ctx, Event{Type: EventRefresh, AccountID: acc.ID, At: now, Attrs: map[string]string{"policy": string(s.policy)}})
	return newSession(acc.ID, access, exp, next), nil
}

// Logout revokes the presented refresh token.
func (s *Service) Logout(ctx context.Context, secret string) (err error) {
	defer func() { s.observe("logout", err) }()

	now := s.now()
	tok, err := s.ledger.Revoke(ctx, secret, now)
	if err != nil {
		return err
	}
	s.publish(ctx, Event{Type: EventLogout, AccountID: tok.AccountID, At: now})
	return nil
}

// Authorize runs the gate at the service clock.
func (s *Service) Authorize(ctx context.Context, bearer string, required RoleSet) (acc *Account, err error) {
	defer func() { s.observe("authorize", err) }()
	return s.gate.Authorize(ctx, bearer, required, s.now())
}

// RegisterInput is a self-service sign-up request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register creates an active account. The first account ever created is
// an admin, every later one a user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (acc *Account, err error) {
	defer func() { s.observe("register", err) }()

	count, err := s.accounts.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count accounts: %w", err)
	}
	role := RoleUser
	if count == 0 {
		role = RoleAdmin
	}
	acc, err = s.createAccount(ctx, in, role)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{Type: EventRegistered, AccountID: acc.ID, At: acc.CreatedAt, Attrs: map[string]string{"role": string(acc.Role)}})
	return acc, nil
}

// BootstrapAdmin creates an admin account unless one with the same username
// already exists. It reports whether an account was created.
func (s *Service) BootstrapAdmin(ctx context.Context, in RegisterInput) (*Account, bool, error) {
	existing, err := s.accounts.FindByUsername(ctx, strings.TrimSpace(in.Username))
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("load account: %w", err)
	}
	acc, err := s.createAccount(ctx, in, RoleAdmin)
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return acc, true, nil
}

// SetActive bans or unbans an account. Admin accounts cannot be banned.
// A ban flips the flag and revokes every live refresh token of the account
// atomically; access tokens already issued are rejected by the gate on
// their next use.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (acc *Account, err error) {
	defer func() { s.observe("set_active", err) }()

	acc, err = s.findAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if !active && acc.Role == RoleAdmin {
		return nil, ErrProtectedAccount
	}
	now := s.now()
	ev := Event{Type: EventUnbanned, At: now}
	if active {
		acc, err = s.accounts.SetActive(ctx, acc.ID, true, now)
	} else {
		var revoked int64
		acc, revoked, err = s.accounts.Deactivate(ctx, acc.ID, now)
		ev.Type = EventBanned
		ev.Attrs = map[string]string{"revoked_tokens": fmt.Sprint(revoked)}
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, fmt.Errorf("update account: %w", err)
	}
	ev.AccountID = acc.ID
	s.publish(ctx, ev)
	return acc, nil
}

// SetRole changes an account's role.
func (s *Service) SetRole(ctx context.Context, id string, role Role) (acc *Account, err error) {
	defer func() { s.observe("set_role", err) }()

	if !role.Valid() {
		return nil, ErrInvalidInput
	}
	acc, err = s.findAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := acc.Role
	now := s.now()
	acc, err = s.accounts.SetRole(ctx, acc.ID, role, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, fmt.Errorf("update account: %w", err)
	}
	s.publish(ctx, Event{Type: EventRoleChanged, AccountID: acc.ID, At: now, Attrs: map[string]string{"from": string(previous), "to": string(role)}})
	return acc, nil
}

func (s *Service) findAccount(ctx context.Context, id string) (*Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUnknownAccount
	}
	acc, err := s.accounts.Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return acc, nil
}

func (s *Service) createAccount(ctx context.Context, in RegisterInput, role Role) (*Account, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" || email == "" {
		return nil, ErrInvalidInput
	}
	if err := emailRule.Var(email, "email,max=254"); err != nil {
		return nil, ErrInvalidInput
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	acc := &Account{
		ID:           ids.Account(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		if errors.Is(err, ErrAccountExists) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return acc, nil
}

func newSession(accountID, access string, exp time.Time, refresh *RefreshToken) *Session {
	return &Session{
		AccountID:        accountID,
		AccessToken:      access,
		RefreshToken:     refresh.Secret,
		TokenType:        tokenTypeBearer,
		ExpiresAt:        exp,
		RefreshExpiresAt: refresh.ExpiresAt,
	}
}

func throttleKeys(username, ip string) []string {
	keys := []string{"user:" + strings.ToLower(username)}
	if ip = strings.TrimSpace(ip); ip != "" {
		keys = append(keys, "ip:"+ip)
	}
	return keys
}

// blocked fails open: an unreachable throttle backend must not lock
// everybody out.
func (s *Service) blocked(ctx context.Context, keys []string) bool {
	if s.throttle == nil {
		return false
	}
	blocked, err := s.throttle.Blocked(ctx, keys...)
	if err != nil {
		s.log.WarnContext(ctx, "login throttle check failed", slog.String("error", err.Error()))
		return false
	}
	return blocked
}

func (s *Service) fail(ctx context.Context, keys []string) {
	if s.throttle == nil {
		return
	}
	if err := s.throttle.Fail(ctx, keys...); err != nil {
		s.log.WarnContext(ctx, "login throttle update failed", slog.String("error", err.Error()))
	}
}

func (s *Service) reset(ctx context.Context, keys []string) {
	if s.throttle == nil {
		return
	}
	if err := s.throttle.Reset(ctx, keys...); err != nil {
		s.log.WarnContext(ctx, "login throttle reset failed", slog.String("error", err.Error()))
	}
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	ev.At = ev.At.UTC()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.WarnContext(ctx, "publish session event failed",
			slog.String("event", ev.Type),
			slog.String("account_id", ev.AccountID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = CodeOf(err)
	}
	obs.ObserveAuth(op, outcome)
	if KindOf(err) == KindInternal && err != nil {
		s.log.Error("auth operation failed", slog.String("operation", op), slog.String("error", err.Error()))
	}
}

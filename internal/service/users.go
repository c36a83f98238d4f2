package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/geocoder89/connecthub/internal/domain/user"
	"github.com/geocoder89/connecthub/internal/observability"
	"github.com/geocoder89/connecthub/internal/security"
)

type UserStore interface {
	FindByUsername(ctx context.Context, username string) (user.User, error)
	FindByEmail(ctx context.Context, email string) (user.User, error)
	Create(ctx context.Context, u user.User) (user.User, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]user.User, error)
	UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

type TokenIssuer interface {
	Issue(subject string, ttl time.Duration) (string, error)
}

type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type UserService struct {
	store    UserStore
	hasher   PasswordHasher
	tokens   TokenIssuer
	loginTTL time.Duration
	prom     *observability.Prom

	// compared against when the username is unknown, so both failure
	// paths cost one bcrypt verification
	dummyHash string
}

func NewUserService(store UserStore, hasher PasswordHasher, tokens TokenIssuer, loginTTL time.Duration, prom *observability.Prom) *UserService {
	dummy, _ := hasher.Hash("connecthub-timing-equalizer")

	return &UserService{
		store:     store,
		hasher:    hasher,
		tokens:    tokens,
		loginTTL:  loginTTL,
		prom:      prom,
		dummyHash: dummy,
	}
}

// Login exchanges a username and password for a bearer token. Unknown
// usernames and wrong passwords fail identically.
func (s *UserService) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)

	u, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			s.prom.ObserveLogin("error")
			return LoginResult{}, s.internal(ctx, "login lookup", err)
		}

		s.hasher.Verify(password, s.dummyHash)
		s.prom.ObserveLogin("failure")
		return LoginResult{}, ErrUnauthenticated
	}

	if !s.hasher.Verify(password, u.PasswordHash) || !u.IsActive {
		s.prom.ObserveLogin("failure")
		return LoginResult{}, ErrUnauthenticated
	}

	token, err := s.tokens.Issue(u.Username, s.loginTTL)
	if err != nil {
		s.prom.ObserveLogin("error")
		return LoginResult{}, s.internal(ctx, "issue token", err)
	}

	s.prom.ObserveLogin("success")

	return LoginResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.loginTTL.Seconds()),
	}, nil
}

// CreateUser adds an account. Only admins may create admins.
func (s *UserService) CreateUser(ctx context.Context, caller user.User, req user.CreateUserRequest) (user.Public, error) {
	if req.IsAdmin && !caller.IsAdmin {
		return user.Public{}, ErrForbidden
	}

	username := strings.TrimSpace(req.Username)
	email := normalizeEmail(req.Email)

	if username == "" || email == "" || req.Password == "" {
		return user.Public{}, ErrInvalidInput
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			return user.Public{}, ErrInvalidInput
		}
		return user.Public{}, s.internal(ctx, "hash password", err)
	}

	created, err := s.store.Create(ctx, user.New(username, email, hash, req.IsAdmin))
	if err != nil {
		if errors.Is(err, user.ErrDuplicateKey) {
			return user.Public{}, ErrDuplicateUser
		}
		return user.Public{}, s.internal(ctx, "create user", err)
	}

	slog.Default().InfoContext(ctx, "user created",
		"user_id", created.ID, "username", created.Username, "is_admin", created.IsAdmin, "by", caller.Username)

	return created.Public(), nil
}

func (s *UserService) Me(caller user.User) user.Public {
	return caller.Public()
}

func (s *UserService) ListUsers(ctx context.Context, caller user.User) ([]user.Public, error) {
	if err := RequireAdmin(caller); err != nil {
		return nil, err
	}

	users, err := s.store.List(ctx)
	if err != nil {
		return nil, s.internal(ctx, "list users", err)
	}

	return user.PublicList(users), nil
}

// DeleteUser permanently removes the account registered under email.
func (s *UserService) DeleteUser(ctx context.Context, caller user.User, email string) error {
	if err := RequireAdmin(caller); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if email == normalizeEmail(caller.Email) {
		return ErrSelfDelete
	}

	target, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		return s.internal(ctx, "find user for delete", err)
	}

	err = s.store.Delete(ctx, target.ID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		return s.internal(ctx, "delete user", err)
	}

	slog.Default().InfoContext(ctx, "user deleted", "user_id", target.ID, "by", caller.Username)

	return nil
}

// ChangePassword replaces the caller's password after checking the old one.
func (s *UserService) ChangePassword(ctx context.Context, caller user.User, oldPassword, newPassword string) error {
	if !s.hasher.Verify(oldPassword, caller.PasswordHash) {
		return ErrInvalidPassword
	}

	if newPassword == "" {
		return ErrInvalidInput
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			return ErrInvalidInput
		}
		return s.internal(ctx, "hash password", err)
	}

	err = s.store.UpdatePassword(ctx, caller.ID, hash, time.Now().UTC())
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// deleted between authentication and update
			return ErrUnauthenticated
		}
		return s.internal(ctx, "update password", err)
	}

	slog.Default().InfoContext(ctx, "password changed", "user_id", caller.ID)

	return nil
}

// internal logs the underlying failure and hides it behind ErrInternal.
func (s *UserService) internal(ctx context.Context, op string, err error) error {
	slog.Default().ErrorContext(ctx, "user service failure", "op", op, "err", err)
	return ErrInternal
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

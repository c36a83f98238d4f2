package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/geocoder89/connecthub/internal/domain/user"
)

type TokenValidator interface {
	Validate(token string) (string, error)
}

type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (user.User, error)
}

// Authorizer resolves bearer tokens to live user records.
type Authorizer struct {
	tokens TokenValidator
	users  UserFinder
}

func NewAuthorizer(tokens TokenValidator, users UserFinder) *Authorizer {
	return &Authorizer{tokens: tokens, users: users}
}

// Authenticate returns the user named by a valid token. A token whose user
// has since been deleted or deactivated is rejected like a bad token.
func (a *Authorizer) Authenticate(ctx context.Context, rawToken string) (user.User, error) {
	subject, err := a.tokens.Validate(rawToken)
	if err != nil {
		return user.User{}, ErrUnauthenticated
	}

	u, err := a.users.FindByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, ErrUnauthenticated
		}

		slog.Default().ErrorContext(ctx, "resolve token subject failed", "err", err)
		return user.User{}, ErrInternal
	}

	if !u.IsActive {
		return user.User{}, ErrUnauthenticated
	}

	return u, nil
}

func RequireAdmin(u user.User) error {
	if !u.IsAdmin {
		return ErrForbidden
	}
	return nil
}

package actorctx

import (
	"context"

	"github.com/geocoder89/connecthub/internal/domain/user"
)

type ctxKey string

const keyUser ctxKey = "actor"

// WithUser records the authenticated caller on a request context so code
// below the HTTP layer can attribute its logs.
func WithUser(ctx context.Context, u user.User) context.Context {
	return context.WithValue(ctx, keyUser, u)
}

func UserFrom(ctx context.Context) (user.User, bool) {
	u, ok := ctx.Value(keyUser).(user.User)

	return u, ok && u.Username != ""
}

// Username returns the caller's username or "" for anonymous requests.
func Username(ctx context.Context) string {
	u, ok := UserFrom(ctx)
	if !ok {
		return ""
	}
	return u.Username
}

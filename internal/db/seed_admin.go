package db

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/geocoder89/connecthub/internal/config"
	"github.com/geocoder89/connecthub/internal/domain/user"
)

// DefaultDevAdminPassword is only ever used when APP_ENV is dev or test.
const DefaultDevAdminPassword = "admin"

type AdminStore interface {
	FindByUsername(ctx context.Context, username string) (user.User, error)
	Create(ctx context.Context, u user.User) (user.User, error)
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
}

type AdminConfig struct {
	Username string
	Email    string
	Password string
	Env      string

	// SecretOut receives a generated password, which never goes to the
	// structured log. Nil means os.Stderr.
	SecretOut io.Writer
}

func AdminConfigFrom(cfg config.Config) AdminConfig {
	return AdminConfig{
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
		Env:      cfg.Env,
	}
}

// Initialize prepares storage for serving: schema migrations, then the
// bootstrap administrator. It is safe to run on every start.
func Initialize(ctx context.Context, conn *Conn, users AdminStore, hasher PasswordHasher, admin AdminConfig) error {
	if err := conn.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if _, err := EnsureAdminUser(ctx, users, hasher, admin); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	return nil
}

// EnsureAdminUser creates the administrator account when no user with that
// username exists. It reports whether an account was created.
func EnsureAdminUser(ctx context.Context, users AdminStore, hasher PasswordHasher, admin AdminConfig) (bool, error) {
	// stored the way the service looks emails up
	admin.Email = strings.ToLower(strings.TrimSpace(admin.Email))

	if admin.Username == "" || admin.Email == "" {
		return false, errors.New("admin username and email are required")
	}

	// check if the user exists
	_, err := users.FindByUsername(ctx, admin.Username)

	if err == nil {
		slog.Default().DebugContext(ctx, "admin user already exists", "username", admin.Username)
		return false, nil
	}

	if !errors.Is(err, user.ErrNotFound) {
		return false, err
	}

	password, generated, err := adminPassword(admin)
	if err != nil {
		return false, err
	}

	hash, err := hasher.Hash(password)

	if err != nil {
		return false, err
	}

	_, err = users.Create(ctx, user.New(admin.Username, admin.Email, hash, true))

	if errors.Is(err, user.ErrDuplicateKey) {
		// another instance seeded first
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch {
	case generated:
		out := admin.SecretOut
		if out == nil {
			out = os.Stderr
		}
		fmt.Fprintf(out, "generated password for admin user %q: %s\n", admin.Username, password)

		slog.Default().WarnContext(ctx, "created admin user with a generated password printed to stderr; change it via /users/change-password after first login",
			"username", admin.Username)
	case password == DefaultDevAdminPassword:
		slog.Default().WarnContext(ctx, "created admin user with the well-known dev password; never run this in production",
			"username", admin.Username)
	default:
		slog.Default().InfoContext(ctx, "created admin user", "username", admin.Username)
	}

	return true, nil
}

func adminPassword(admin AdminConfig) (password string, generated bool, err error) {
	if admin.Password != "" {
		return admin.Password, false, nil
	}

	if admin.Env == "dev" || admin.Env == "test" {
		return DefaultDevAdminPassword, false, nil
	}

	buf := make([]byte, 18)
	if _, err = rand.Read(buf); err != nil {
		return "", false, fmt.Errorf("generate admin password: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), true, nil
}

package db_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/geocoder89/connecthub/internal/config"
	"github.com/geocoder89/connecthub/internal/db"
	"github.com/geocoder89/connecthub/internal/domain/user"
	"github.com/geocoder89/connecthub/internal/repo/sqlite"
	"github.com/geocoder89/connecthub/internal/security"
	"golang.org/x/crypto/bcrypt"
)

func openTestConn(t *testing.T) *db.Conn {
	t.Helper()

	conn, err := db.Open(context.Background(), config.Config{
		DBDriver:   config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "seed.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func TestInitialize_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	repo := sqlite.NewUsersRepo(conn.SQL, nil)
	hasher := security.NewHasher(bcrypt.MinCost)

	admin := db.AdminConfig{Username: "admin", Email: "admin@example.com", Env: "dev"}

	for i := 0; i < 3; i++ {
		if err := db.Initialize(ctx, conn, repo, hasher, admin); err != nil {
			t.Fatalf("Initialize #%d: %v", i+1, err)
		}
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("users = %d, want 1", len(all))
	}

	got := all[0]
	if got.Username != "admin" || !got.IsAdmin || !got.IsActive {
		t.Fatalf("unexpected admin row: %+v", got)
	}
	if !hasher.Verify(db.DefaultDevAdminPassword, got.PasswordHash) {
		t.Fatal("dev admin should use the well-known password")
	}
}

func TestEnsureAdminUser_ConfiguredPassword(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	if err := conn.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	repo := sqlite.NewUsersRepo(conn.SQL, nil)
	hasher := security.NewHasher(bcrypt.MinCost)

	created, err := db.EnsureAdminUser(ctx, repo, hasher, db.AdminConfig{
		Username: "root",
		Email:    "root@example.com",
		Password: "s3cret-pass",
		Env:      "prod",
	})
	if err != nil {
		t.Fatalf("EnsureAdminUser: %v", err)
	}
	if !created {
		t.Fatal("expected admin to be created")
	}

	got, err := repo.FindByUsername(ctx, "root")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if !hasher.Verify("s3cret-pass", got.PasswordHash) {
		t.Fatal("configured password should verify")
	}
	if got.PasswordHash == "s3cret-pass" {
		t.Fatal("password stored in plaintext")
	}
}

func TestEnsureAdminUser_GeneratesPasswordOutsideDev(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	if err := conn.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	repo := sqlite.NewUsersRepo(conn.SQL, nil)
	hasher := security.NewHasher(bcrypt.MinCost)

	var logs, secret bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	created, err := db.EnsureAdminUser(ctx, repo, hasher, db.AdminConfig{
		Username:  "admin",
		Email:     "admin@example.com",
		Env:       "prod",
		SecretOut: &secret,
	})
	if err != nil {
		t.Fatalf("EnsureAdminUser: %v", err)
	}
	if !created {
		t.Fatal("expected admin to be created")
	}

	got, err := repo.FindByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if hasher.Verify(db.DefaultDevAdminPassword, got.PasswordHash) {
		t.Fatal("well-known password must not be used outside dev")
	}

	line := strings.TrimSpace(secret.String())
	idx := strings.LastIndex(line, ": ")
	if idx < 0 {
		t.Fatalf("generated password not printed: %q", line)
	}
	password := line[idx+2:]
	if !hasher.Verify(password, got.PasswordHash) {
		t.Fatal("printed password does not match the stored hash")
	}
	if strings.Contains(logs.String(), password) {
		t.Fatalf("generated password leaked into structured logs: %s", logs.String())
	}
	if !strings.Contains(logs.String(), "generated password") {
		t.Fatalf("missing warning in logs: %s", logs.String())
	}
}

func TestEnsureAdminUser_NormalizesEmail(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	if err := conn.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	repo := sqlite.NewUsersRepo(conn.SQL, nil)

	_, err := db.EnsureAdminUser(ctx, repo, security.NewHasher(bcrypt.MinCost), db.AdminConfig{
		Username: "admin",
		Email:    "  Admin@Example.COM ",
		Env:      "dev",
	})
	if err != nil {
		t.Fatalf("EnsureAdminUser: %v", err)
	}

	got, err := repo.FindByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if got.Username != "admin" {
		t.Fatalf("unexpected row: %+v", got)
	}
}

type failingStore struct{}

func (failingStore) FindByUsername(context.Context, string) (user.User, error) {
	return user.User{}, errors.New("db down")
}

func (failingStore) Create(context.Context, user.User) (user.User, error) {
	return user.User{}, errors.New("unreachable")
}

func TestEnsureAdminUser_PropagatesLookupErrors(t *testing.T) {
	_, err := db.EnsureAdminUser(context.Background(), failingStore{}, security.NewHasher(bcrypt.MinCost), db.AdminConfig{
		Username: "admin",
		Email:    "admin@example.com",
		Env:      "dev",
	})
	if err == nil {
		t.Fatal("expected lookup error to propagate")
	}
}

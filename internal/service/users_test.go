package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/geocoder89/connecthub/internal/auth"
	"github.com/geocoder89/connecthub/internal/config"
	"github.com/geocoder89/connecthub/internal/db"
	"github.com/geocoder89/connecthub/internal/domain/user"
	"github.com/geocoder89/connecthub/internal/repo/sqlite"
	"github.com/geocoder89/connecthub/internal/security"
	"github.com/geocoder89/connecthub/internal/service"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	svc    *service.UserService
	authz  *service.Authorizer
	repo   *sqlite.UsersRepo
	tokens *auth.Manager
}

// newTestEnv bootstraps an empty SQLite store the way the server does.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()

	conn, err := db.Open(ctx, config.Config{
		DBDriver:   config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "service.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(conn.Close)

	repo := sqlite.NewUsersRepo(conn.SQL, nil)
	hasher := security.NewHasher(bcrypt.MinCost)

	err = db.Initialize(ctx, conn, repo, hasher, db.AdminConfig{
		Username: "admin",
		Email:    "admin@example.com",
		Env:      "test",
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	tokens := auth.NewManager("test-secret", 0)

	return testEnv{
		svc:    service.NewUserService(repo, hasher, tokens, 30*time.Minute, nil),
		authz:  service.NewAuthorizer(tokens, repo),
		repo:   repo,
		tokens: tokens,
	}
}

// caller logs in and resolves the token, like a request would.
func (e testEnv) caller(t *testing.T, username, password string) user.User {
	t.Helper()
	ctx := context.Background()

	res, err := e.svc.Login(ctx, username, password)
	if err != nil {
		t.Fatalf("Login(%s): %v", username, err)
	}

	u, err := e.authz.Authenticate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate(%s): %v", username, err)
	}
	return u
}

func (e testEnv) count(t *testing.T) int {
	t.Helper()
	all, err := e.repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return len(all)
}

func (e testEnv) createAlice(t *testing.T) user.User {
	t.Helper()
	admin := e.caller(t, "admin", "admin")

	_, err := e.svc.CreateUser(context.Background(), admin, user.CreateUserRequest{
		Username: "alice",
		Email:    "alice@x.com",
		Password: "pw123",
	})
	if err != nil {
		t.Fatalf("CreateUser(alice): %v", err)
	}
	return e.caller(t, "alice", "pw123")
}

func TestBootstrap_AdminLoginThenListUsers(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	res, err := e.svc.Login(ctx, "admin", "admin")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.TokenType != "bearer" || res.AccessToken == "" {
		t.Fatalf("unexpected login result: %+v", res)
	}
	if res.ExpiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("expires_in = %d, want 1800", res.ExpiresIn)
	}

	admin, err := e.authz.Authenticate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	users, err := e.svc.ListUsers(ctx, admin)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 || users[0].Username != "admin" || !users[0].IsAdmin {
		t.Fatalf("unexpected users: %+v", users)
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, errUnknown := e.svc.Login(ctx, "nobody", "admin")
	_, errWrong := e.svc.Login(ctx, "admin", "wrong")

	if !errors.Is(errUnknown, service.ErrUnauthenticated) || !errors.Is(errWrong, service.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for both, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("error text differs: %q vs %q", errUnknown, errWrong)
	}
}

func TestCreateUser_AliceCanLogin(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	admin := e.caller(t, "admin", "admin")

	pub, err := e.svc.CreateUser(ctx, admin, user.CreateUserRequest{
		Username: "alice",
		Email:    "Alice@X.com ",
		Password: "pw123",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if pub.Username != "alice" || pub.Email != "alice@x.com" || pub.IsAdmin || !pub.IsActive {
		t.Fatalf("unexpected public view: %+v", pub)
	}

	stored, err := e.repo.FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if stored.PasswordHash == "pw123" || stored.PasswordHash == "" {
		t.Fatalf("password not hashed: %q", stored.PasswordHash)
	}

	if _, err := e.svc.Login(ctx, "alice", "pw123"); err != nil {
		t.Fatalf("alice login with pw123: %v", err)
	}
	for _, wrong := range []string{"", "pw1234", "PW123", "admin"} {
		if _, err := e.svc.Login(ctx, "alice", wrong); !errors.Is(err, service.ErrUnauthenticated) {
			t.Fatalf("alice login with %q: expected ErrUnauthenticated, got %v", wrong, err)
		}
	}
}

func TestCreateUser_DuplicateLeavesStoreUnchanged(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.createAlice(t)
	admin := e.caller(t, "admin", "admin")

	before := e.count(t)

	tests := []struct {
		name   string
		caller user.User
		req    user.CreateUserRequest
	}{
		{
			name:   "username taken",
			caller: admin,
			req:    user.CreateUserRequest{Username: "alice", Email: "other@x.com", Password: "pw"},
		},
		{
			name:   "email taken",
			caller: alice,
			req:    user.CreateUserRequest{Username: "bob", Email: "ALICE@x.com", Password: "pw"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.CreateUser(ctx, tt.caller, tt.req)
			if !errors.Is(err, service.ErrConflict) {
				t.Fatalf("expected ErrConflict, got %v", err)
			}
			if got := e.count(t); got != before {
				t.Fatalf("row count = %d, want %d", got, before)
			}
		})
	}
}

func TestCreateUser_NonAdminCannotCreateAdmin(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.createAlice(t)

	before := e.count(t)

	_, err := e.svc.CreateUser(ctx, alice, user.CreateUserRequest{
		Username: "mallory",
		Email:    "mallory@x.com",
		Password: "pw",
		IsAdmin:  true,
	})
	if !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if got := e.count(t); got != before {
		t.Fatalf("row count = %d, want %d", got, before)
	}

	// a regular account is fine
	if _, err := e.svc.CreateUser(ctx, alice, user.CreateUserRequest{
		Username: "bob",
		Email:    "bob@x.com",
		Password: "pw",
	}); err != nil {
		t.Fatalf("non-admin creating regular user: %v", err)
	}
}

func TestCreateUser_AdminCanCreateAdmin(t *testing.T) {
	e := newTestEnv(t)
	admin := e.caller(t, "admin", "admin")

	pub, err := e.svc.CreateUser(context.Background(), admin, user.CreateUserRequest{
		Username: "ops",
		Email:    "ops@x.com",
		Password: "pw",
		IsAdmin:  true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !pub.IsAdmin {
		t.Fatal("expected admin flag")
	}

	ops := e.caller(t, "ops", "pw")
	if _, err := e.svc.ListUsers(context.Background(), ops); err != nil {
		t.Fatalf("new admin ListUsers: %v", err)
	}
}

func TestListUsers_NonAdminForbidden(t *testing.T) {
	e := newTestEnv(t)
	alice := e.createAlice(t)

	_, err := e.svc.ListUsers(context.Background(), alice)
	if !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestMe_ReturnsCallerProfile(t *testing.T) {
	e := newTestEnv(t)
	alice := e.createAlice(t)

	me := e.svc.Me(alice)
	if me.Username != "alice" || me.Email != "alice@x.com" || me.ID != alice.ID {
		t.Fatalf("unexpected profile: %+v", me)
	}
}

func TestDeleteUser(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.createAlice(t)
	admin := e.caller(t, "admin", "admin")

	t.Run("self delete refused", func(t *testing.T) {
		before := e.count(t)
		err := e.svc.DeleteUser(ctx, admin, "ADMIN@example.com")
		if !errors.Is(err, service.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		if got := e.count(t); got != before {
			t.Fatalf("row count = %d, want %d", got, before)
		}
	})

	t.Run("non admin forbidden", func(t *testing.T) {
		err := e.svc.DeleteUser(ctx, alice, "admin@example.com")
		if !errors.Is(err, service.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		err := e.svc.DeleteUser(ctx, admin, "ghost@x.com")
		if !errors.Is(err, service.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("deletes target and invalidates its tokens", func(t *testing.T) {
		res, err := e.svc.Login(ctx, "alice", "pw123")
		if err != nil {
			t.Fatalf("Login: %v", err)
		}

		if err := e.svc.DeleteUser(ctx, admin, "alice@x.com"); err != nil {
			t.Fatalf("DeleteUser: %v", err)
		}

		if _, err := e.repo.FindByEmail(ctx, "alice@x.com"); !errors.Is(err, user.ErrNotFound) {
			t.Fatalf("expected alice to be gone, got %v", err)
		}

		if _, err := e.authz.Authenticate(ctx, res.AccessToken); !errors.Is(err, service.ErrUnauthenticated) {
			t.Fatalf("stale token: expected ErrUnauthenticated, got %v", err)
		}
	})
}

func TestChangePassword(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.createAlice(t)

	err := e.svc.ChangePassword(ctx, alice, "wrong-old", "newpw")
	if !errors.Is(err, service.ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	if _, err := e.svc.Login(ctx, "alice", "newpw"); !errors.Is(err, service.ErrUnauthenticated) {
		t.Fatalf("new password must not work after failed change, got %v", err)
	}
	if _, err := e.svc.Login(ctx, "alice", "pw123"); err != nil {
		t.Fatalf("old password should still work: %v", err)
	}

	if err := e.svc.ChangePassword(ctx, alice, "pw123", "newpw"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := e.svc.Login(ctx, "alice", "pw123"); !errors.Is(err, service.ErrUnauthenticated) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := e.svc.Login(ctx, "alice", "newpw"); err != nil {
		t.Fatalf("new password should work: %v", err)
	}

	stored, err := e.repo.FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if !stored.UpdatedAt.After(alice.UpdatedAt) {
		t.Fatalf("updated_at not advanced: %v -> %v", alice.UpdatedAt, stored.UpdatedAt)
	}
}

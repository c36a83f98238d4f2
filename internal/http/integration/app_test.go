package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/geocoder89/connecthub/internal/auth"
	"github.com/geocoder89/connecthub/internal/config"
	"github.com/geocoder89/connecthub/internal/db"
	apphttp "github.com/geocoder89/connecthub/internal/http"
	"github.com/geocoder89/connecthub/internal/http/middlewares"
	"github.com/geocoder89/connecthub/internal/observability"
	"github.com/geocoder89/connecthub/internal/repo/postgres"
	"github.com/geocoder89/connecthub/internal/repo/sqlite"
	"github.com/geocoder89/connecthub/internal/security"
	"github.com/geocoder89/connecthub/internal/service"
	"github.com/geocoder89/connecthub/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type userStore interface {
	service.UserStore
	db.AdminStore
}

type app struct {
	server   *httptest.Server
	upstream *httptest.Server
}

// newApp wires the full stack the way cmd/api does, against a fresh store
// and a fake upstream.
func newApp(t *testing.T, cfg config.Config) *app {
	t.Helper()
	ctx := context.Background()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "up-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v1/connect":
			_, _ = w.Write([]byte(`"connected"`))
		case "/api/v1/schemas":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"name":"GA4MP"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(up.Close)

	conn, err := db.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(conn.Close)

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	var store userStore
	switch conn.Driver {
	case config.DriverSQLite:
		store = sqlite.NewUsersRepo(conn.SQL, prom)
	default:
		if err := conn.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		if _, err := conn.Pool.Exec(ctx, `TRUNCATE users RESTART IDENTITY`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		store = postgres.NewUsersRepo(conn.Pool, prom)
	}

	hasher := security.NewHasher(bcrypt.MinCost)
	tokens := auth.NewManager("integration-secret", cfg.AccessTokenTTL)

	if err := db.Initialize(ctx, conn, store, hasher, db.AdminConfigFrom(cfg)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	users := service.NewUserService(store, hasher, tokens, cfg.LoginTokenTTL, prom)

	router := apphttp.NewRouter(apphttp.Deps{
		Env:      cfg.Env,
		Users:    users,
		Authn:    service.NewAuthorizer(tokens, store),
		Upstream: upstream.New(upstream.Config{BaseURL: up.URL + "/api/v1", APIKey: "up-key", Timeout: 2 * time.Second}, prom),
		Ping:     conn.Ping,
		Prom:     prom,
		Gatherer: reg,

		LoginLimiter:       middlewares.NewMemoryLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MaxBodyBytes:       cfg.MaxBodyBytes,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &app{server: srv, upstream: up}
}

func sqliteConfig(t *testing.T) config.Config {
	t.Helper()
	return baseConfig(config.Config{
		DBDriver:   config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "connecthub.db"),
	})
}

// postgresConfig is only available when TEST_DB_DSN points at a scratch
// database.
func postgresConfig(t *testing.T) config.Config {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	return baseConfig(config.Config{
		DBDriver: config.DriverPostgres,
		DBURL:    dsn,
	})
}

func baseConfig(cfg config.Config) config.Config {
	cfg.Env = "test"
	cfg.JWTSecret = "integration-secret"
	cfg.AccessTokenTTL = 15 * time.Minute
	cfg.LoginTokenTTL = 30 * time.Minute
	cfg.AdminUsername = "admin"
	cfg.AdminEmail = "admin@example.com"
	cfg.LoginRateLimit = 100
	cfg.LoginRateWindow = time.Minute
	cfg.CORSAllowedOrigins = []string{"http://localhost:3000"}
	cfg.MaxBodyBytes = 1 << 20
	return cfg
}

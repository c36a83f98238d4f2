package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/geocoder89/connecthub/internal/auth"
	"github.com/geocoder89/connecthub/internal/config"
	"github.com/geocoder89/connecthub/internal/db"
	httpx "github.com/geocoder89/connecthub/internal/http"
	"github.com/geocoder89/connecthub/internal/http/middlewares"
	"github.com/geocoder89/connecthub/internal/observability"
	"github.com/geocoder89/connecthub/internal/redisclient"
	"github.com/geocoder89/connecthub/internal/repo/postgres"
	"github.com/geocoder89/connecthub/internal/repo/sqlite"
	"github.com/geocoder89/connecthub/internal/security"
	"github.com/geocoder89/connecthub/internal/service"
	"github.com/geocoder89/connecthub/internal/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type userStore interface {
	service.UserStore
	db.AdminStore
}

func main() {
	if err := run(); err != nil {
		slog.Default().Error("startup failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTelEnabled, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		sctx, scancel := config.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTracer(sctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := observability.NewProm(reg)

	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	var store userStore
	switch conn.Driver {
	case config.DriverSQLite:
		store = sqlite.NewUsersRepo(conn.SQL, prom)
	default:
		store = postgres.NewUsersRepo(conn.Pool, prom)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		// Validate only lets this through in dev and test
		jwtSecret, err = auth.GenerateSecret()
		if err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		log.Warn("JWT_SECRET is not set; using a random secret, tokens will not survive a restart", "env", cfg.Env)
	}
	tokens := auth.NewManager(jwtSecret, cfg.AccessTokenTTL)

	initCtx, initCancel := config.WithTimeout(ctx, 30*time.Second)
	err = db.Initialize(initCtx, conn, store, hasher, db.AdminConfigFrom(cfg))
	initCancel()
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}

	var limiter middlewares.Limiter = middlewares.NewMemoryLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow)

	if cfg.RedisAddr != "" {
		rdb := redisclient.New(redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		pctx, pcancel := config.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pctx)
		pcancel()

		if err != nil {
			log.Warn("redis unreachable, login rate limit is per instance", "addr", cfg.RedisAddr, "err", err)
		} else {
			limiter = redisclient.NewRateLimiter(rdb, "connecthub:login", cfg.LoginRateLimit, cfg.LoginRateWindow)
			log.Info("redis rate limiter enabled", "addr", cfg.RedisAddr)
		}
	}

	var draining atomic.Bool

	router := httpx.NewRouter(httpx.Deps{
		Env:   cfg.Env,
		Users: service.NewUserService(store, hasher, tokens, cfg.LoginTokenTTL, prom),
		Authn: service.NewAuthorizer(tokens, store),
		Upstream: upstream.New(upstream.Config{
			BaseURL:        cfg.UpstreamBaseURL,
			APIKey:         cfg.UpstreamAPIKey,
			Timeout:        cfg.UpstreamTimeout,
			SchemaCacheTTL: cfg.UpstreamSchemaCacheTTL,
		}, prom),
		Ping:     conn.Ping,
		Draining: draining.Load,
		Prom:     prom,
		Gatherer: reg,

		LoginLimiter:       limiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MaxBodyBytes:       cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "db_driver", conn.Driver, "upstream", cfg.UpstreamBaseURL)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-stop:
	}

	log.Info("server shutting down")
	draining.Store(true)

	shutdownCtx, shutdownCancel := config.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
		return err
	}

	log.Info("shutdown complete")
	return nil
}

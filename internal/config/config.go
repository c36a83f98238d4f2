package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Env  string
	Port int

	DBDriver   string
	DBURL      string
	SQLitePath string

	JWTSecret      string
	AccessTokenTTL time.Duration
	LoginTokenTTL  time.Duration
	BcryptCost     int

	AdminUsername string
	AdminEmail    string
	AdminPassword string

	UpstreamBaseURL        string
	UpstreamAPIKey         string
	UpstreamTimeout        time.Duration
	UpstreamSchemaCacheTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LoginRateLimit  int
	LoginRateWindow time.Duration

	CORSAllowedOrigins []string
	MaxBodyBytes       int64

	OTelEnabled  bool
	OTelEndpoint string
}

// Load reads the process configuration once. A .env file in the working
// directory is honoured but never overrides variables already set.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:  getEnv("APP_ENV", "dev"),
		Port: getEnvInt("PORT", 8000),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
		DBURL:      buildDBURL(),
		SQLitePath: getEnv("SQLITE_PATH", "./connecthub.db"),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		LoginTokenTTL:  getEnvDuration("LOGIN_TOKEN_TTL", 30*time.Minute),
		BcryptCost:     getEnvInt("BCRYPT_COST", 10),

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@example.com"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		UpstreamBaseURL:        buildUpstreamURL(),
		UpstreamAPIKey:         getEnv("TIGHTLOCK_API_KEY", ""),
		UpstreamTimeout:        getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		UpstreamSchemaCacheTTL: getEnvDuration("UPSTREAM_SCHEMA_CACHE_TTL", 30*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		LoginRateLimit:  getEnvInt("LOGIN_RATE_LIMIT", 10),
		LoginRateWindow: getEnvDuration("LOGIN_RATE_WINDOW", time.Minute),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),

		OTelEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

// Validate rejects configurations the server must not start with.
func (c Config) Validate() error {
	var errs []error

	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}

	if c.JWTSecret == "" && c.Env != "dev" && c.Env != "test" {
		errs = append(errs, errors.New("JWT_SECRET is required outside dev"))
	}

	if c.UpstreamBaseURL == "" {
		errs = append(errs, errors.New("upstream base url is empty"))
	}

	if c.LoginTokenTTL <= 0 || c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}

	return errors.Join(errs...)
}

func buildDBURL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "connecthub")
	pass := getEnv("DB_PASSWORD", "connecthub")
	name := getEnv("DB_NAME", "connecthub")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func buildUpstreamURL() string {
	if v := os.Getenv("TIGHTLOCK_BASE_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}

	ip := getEnv("TIGHTLOCK_IP", "localhost")
	return "http://" + ip + "/api/v1"
}

// WithTimeout bounds one store or upstream call made on behalf of parent.
func WithTimeout(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}

// accepts Go durations ("90s") or bare minutes ("30")
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	if d, err := time.ParseDuration(v); err == nil {
		return d
	}

	if mins, err := strconv.Atoi(v); err == nil {
		return time.Duration(mins) * time.Minute
	}

	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package http

import (
	"context"
	"time"

	"github.com/geocoder89/connecthub/internal/http/handlers"
	"github.com/geocoder89/connecthub/internal/http/middlewares"
	"github.com/geocoder89/connecthub/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type UserService interface {
	handlers.Authenticator
	handlers.UserManager
}

type Deps struct {
	Env string

	Users    UserService
	Authn    middlewares.Authenticator
	Upstream handlers.Upstream

	// Ping backs /readyz. Nil means always ready.
	Ping func(ctx context.Context) error
	// Draining reports that shutdown has begun; /readyz then fails.
	Draining func() bool

	Prom     *observability.Prom
	Gatherer prometheus.Gatherer

	LoginLimiter       middlewares.Limiter
	CORSAllowedOrigins []string
	MaxBodyBytes       int64
}

func NewRouter(d Deps) *gin.Engine {
	if d.Env != "dev" && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(otelgin.Middleware(observability.ServiceName))
	r.Use(middlewares.RequestLogger())
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.CORSAllowedOrigins))
	if d.MaxBodyBytes > 0 {
		r.Use(middlewares.MaxBodyBytes(d.MaxBodyBytes))
	}

	// ops
	health := handlers.NewHealthHandler(d.Ping, d.Draining)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/docs", handlers.SwaggerUI)
	r.GET("/docs/openapi.yaml", handlers.OpenAPISpec)

	authMw := middlewares.NewAuthMiddleware(d.Authn)
	authH := handlers.NewAuthHandler(d.Users)
	usersH := handlers.NewUsersHandler(d.Users)
	proxyH := handlers.NewProxyHandler(d.Upstream)

	loginLimiter := d.LoginLimiter
	if loginLimiter == nil {
		loginLimiter = middlewares.NewMemoryLimiter(10, time.Minute)
	}

	r.POST("/token",
		middlewares.RateLimit(loginLimiter, middlewares.KeyByIP),
		middlewares.RequireContentType("application/json", "application/x-www-form-urlencoded", "multipart/form-data"),
		authH.Login,
	)

	users := r.Group("/users", authMw.RequireAuth())
	{
		users.GET("/me", usersH.Me)
		users.POST("", middlewares.RequireJSON(), usersH.Create)
		users.POST("/change-password", middlewares.RequireJSON(), usersH.ChangePassword)

		admin := users.Group("", authMw.RequireAdmin())
		admin.GET("", usersH.List)
		admin.DELETE("/:email", usersH.Delete)
	}

	proxy := r.Group("", authMw.RequireAuth())
	{
		proxy.GET("/connect", proxyH.Connect)
		proxy.GET("/schemas", proxyH.Schemas)
	}

	return r
}

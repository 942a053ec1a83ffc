package handler

import (
	"wallet-ledger/internal/adapter/http/middleware"
	redisStore "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	SubmissionSvc  ports.SubmissionService
	ReportingSvc   ports.ReportingService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Registry       *prometheus.Registry // nil = /metrics disabled
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	if deps.Registry != nil {
		r.Use(middleware.NewHTTPMetrics(deps.Registry).Handler())
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	// Health check (deep, pings PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	walletHandler := NewWalletHandler(deps.WalletSvc)
	wallets := v1.Group("/wallets", jwtAuth)
	{
		wallets.POST("", rl("wallets_write"), walletHandler.Create)
		wallets.GET("", rl("queries"), walletHandler.List)
		wallets.GET("/:id", rl("queries"), walletHandler.Get)
		wallets.POST("/:id/deactivate", rl("wallets_write"), walletHandler.Deactivate)
	}

	txHandler := NewTransactionHandler(deps.SubmissionSvc, deps.ReportingSvc)
	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.POST("/replenish", rl("transactions_submit"), txHandler.Replenish)
		transactions.POST("/withdraw", rl("transactions_submit"), txHandler.Withdraw)
		transactions.POST("/transfer", rl("transactions_submit"), txHandler.Transfer)
		transactions.GET("", rl("queries"), txHandler.List)
		transactions.GET("/stats", rl("queries"), txHandler.GetStats)
		transactions.GET("/:id", rl("queries"), txHandler.Get)
	}

	return r
}

package handler

import (
	"time"

	"payment-settlement-core/internal/adapter/http/middleware"
	redisStorage "payment-settlement-core/internal/adapter/storage/redis"
	"payment-settlement-core/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	OrderSvc       ports.OrderService
	RefundSvc      ports.RefundService
	ReconcilerSvc  ports.ReconcilerService
	ReportingSvc   ports.ReportingService
	TokenSvc       ports.TokenService
	HealthCheckers []ports.HealthChecker
	RateLimiter    *redisStorage.RateLimitStore // nil disables throttling
	RateLimit      int64
	RateWindow     time.Duration
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit
	if deps.RateLimiter != nil {
		r.Use(middleware.RateLimit(deps.RateLimiter, deps.RateLimit, deps.RateWindow, deps.Logger))
	}

	// Health check (deep, verifies PostgreSQL and Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	v1 := r.Group("/api/v1")

	// --- Public routes ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
	}

	// Gateway callbacks authenticate themselves by HMAC inside the rail
	// adapter, not by JWT.
	callbackHandler := NewCallbackHandler(deps.ReconcilerSvc)
	v1.POST("/callbacks/:method", callbackHandler.Notify)

	// --- Merchant-facing order routes ---
	orderHandler := NewOrderHandler(deps.OrderSvc)
	orders := v1.Group("/orders")
	{
		orders.POST("", orderHandler.Create)
		orders.GET("", orderHandler.List)
		orders.GET("/:id", orderHandler.Get)
	}

	// --- Operator routes (JWT-authenticated) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	refundHandler := NewRefundHandler(deps.RefundSvc)
	statsHandler := NewStatsHandler(deps.ReportingSvc)

	ops := v1.Group("/orders", jwtAuth)
	{
		ops.POST("/:id/close", orderHandler.Close)
		ops.POST("/:id/cancel", orderHandler.Cancel)
		ops.POST("/:id/probe", callbackHandler.Probe)
		ops.POST("/:id/refunds", refundHandler.Create)
	}

	v1.GET("/statistics", jwtAuth, statsHandler.GetStatistics)

	return r
}

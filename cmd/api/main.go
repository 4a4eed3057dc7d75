package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"payment-settlement-core/config"
	eventSink "payment-settlement-core/internal/adapter/event"
	gw "payment-settlement-core/internal/adapter/gateway"
	httpHandler "payment-settlement-core/internal/adapter/http/handler"
	pgStorage "payment-settlement-core/internal/adapter/storage/postgres"
	redisStorage "payment-settlement-core/internal/adapter/storage/redis"
	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/internal/service"
	"payment-settlement-core/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Payment Settlement Core")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Repositories
	orderRepo := pgStorage.NewOrderRepo(pool)
	operatorRepo := pgStorage.NewOperatorRepo(pool)
	auditRepo := pgStorage.NewAuditRepository(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	orderLock := redisStorage.NewOrderLock(rdb, cfg.Lock.TTL, cfg.Lock.MaxRetries, cfg.Lock.RetryDelay, log)

	// Event sink
	var events ports.EventSink
	switch cfg.Events.Sink {
	case "kafka":
		kafkaSink := eventSink.NewKafkaSink(cfg.Events.Brokers, cfg.Events.Topic, log)
		defer kafkaSink.Close() //nolint:errcheck
		events = kafkaSink
		log.Info().Strs("brokers", cfg.Events.Brokers).Str("topic", cfg.Events.Topic).Msg("Kafka event sink enabled")
	default:
		events = eventSink.NewLogSink(log)
	}

	// Gateway adapters, one per configured rail
	registry := gw.NewRegistry()
	rpcEndpoints := make(map[string]string)
	for code, gwCfg := range cfg.Gateways {
		method, err := domain.ParseMethod(strings.ToUpper(code))
		if err != nil {
			log.Fatal().Str("method", code).Msg("Unknown payment method in gateway config")
		}
		if method.IsCrypto() {
			registry.Register(gw.NewCryptoAdapter(method, gwCfg))
			if gwCfg.RPCURL != "" {
				rpcEndpoints[method.Network()] = gwCfg.RPCURL
			}
		} else {
			registry.Register(gw.NewHostedAdapter(method, gwCfg))
		}
	}
	log.Info().Strs("methods", registry.Methods()).Msg("Gateway adapters registered")

	var confirmationSource ports.ConfirmationSource
	if len(rpcEndpoints) > 0 {
		confirmationSource = gw.NewRPCConfirmationSource(rpcEndpoints, 5*time.Second)
	}
	confirmations := service.NewConfirmationTracker(confirmationSource, log)

	// Core services
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(auditRepo, log)

	// Business services
	authSvc := service.NewAuthService(operatorRepo, hashSvc, tokenSvc)
	orderSvc := service.NewOrderService(orderRepo, registry, idempotencyCache, transactor, orderLock, events, auditSvc, log)
	reconciler := service.NewReconciler(orderRepo, registry, transactor, orderLock, confirmations, events, log)
	refundSvc := service.NewRefundService(orderRepo, registry, transactor, orderLock, events, auditSvc, log)
	reportingSvc := service.NewReportingService(orderRepo)

	// Expiry sweep loop
	sweeper := service.NewExpirySweeper(orderRepo, transactor, orderLock, events, log, cfg.Sweep.Interval, cfg.Sweep.BatchSize)
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	go sweeper.Run(sweepCtx)

	// Health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	var rateLimiter *redisStorage.RateLimitStore
	if cfg.Rate.Enabled {
		rateLimiter = redisStorage.NewRateLimitStore(rdb)
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		OrderSvc:       orderSvc,
		RefundSvc:      refundSvc,
		ReconcilerSvc:  reconciler,
		ReportingSvc:   reportingSvc,
		TokenSvc:       tokenSvc,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		RateLimiter:    rateLimiter,
		RateLimit:      cfg.Rate.Limit,
		RateWindow:     cfg.Rate.Window,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet-ledger/config"
	httpHandler "wallet-ledger/internal/adapter/http/handler"
	memStorage "wallet-ledger/internal/adapter/storage/memory"
	pgStorage "wallet-ledger/internal/adapter/storage/postgres"
	redisStorage "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/service"
	"wallet-ledger/internal/worker"
	"wallet-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ledgerStore bundles the repositories and transactor of one storage driver.
type ledgerStore struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	health     []ports.HealthChecker
	close      func()
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	deadLetters := flag.Int64("dead-letters", 0, "log the newest N dead-lettered settlement jobs and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	if *deadLetters > 0 {
		if err := showDeadLetters(context.Background(), cfg, *deadLetters, log); err != nil {
			log.Fatal().Err(err).Msg("listing dead letters failed")
		}
		return
	}

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("driver", cfg.Database.Driver).
		Msg("Starting wallet ledger")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("wallet ledger stopped with error")
	}
	log.Info().Msg("Server exited")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	store, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer store.close()

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	queue := newSettlementQueue(rdb, cfg.Settlement, log)
	if err := queue.EnsureGroup(ctx); err != nil {
		return err
	}
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(registry)

	// Initialize services
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	walletSvc := service.NewWalletService(store.walletRepo, log)
	reportingSvc := service.NewReportingService(store.txRepo, store.walletRepo)
	submissionSvc := service.NewSubmissionService(
		store.walletRepo,
		store.txRepo,
		queue,
		idempotencyCache,
		cfg.Idempotency.TTL,
		metrics,
		log,
	)
	settlementSvc := service.NewSettlementService(store.txRepo, store.walletRepo, store.transactor, metrics, log)
	reconciler := service.NewReconciler(
		store.txRepo,
		queue,
		cfg.Reconciler.Interval,
		cfg.Reconciler.StaleAfter,
		cfg.Reconciler.Batch,
		metrics,
		log,
	)

	hostname, _ := os.Hostname()
	pool := worker.NewPool(queue, settlementSvc, worker.Options{
		Workers:        cfg.Settlement.Workers,
		ConsumerPrefix: hostname,
		ClaimMinIdle:   cfg.Settlement.ClaimMinIdle,
		ClaimInterval:  cfg.Settlement.ClaimInterval,
		Retry: worker.RetryPolicy{
			MaxRetries: cfg.Settlement.MaxRetries,
			Start:      cfg.Settlement.BackoffStart,
			Step:       cfg.Settlement.BackoffStep,
			Max:        cfg.Settlement.BackoffMax,
		},
	}, metrics, log)

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	gin.SetMode(cfg.Server.Mode)
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      walletSvc,
		SubmissionSvc:  submissionSvc,
		ReportingSvc:   reportingSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: append(store.health, redisStorage.NewHealthCheck(rdb)),
		Registry:       registry,
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	return g.Wait()
}

func newSettlementQueue(rdb *goredis.Client, cfg config.SettlementConfig, log zerolog.Logger) *redisStorage.SettlementQueue {
	return redisStorage.NewSettlementQueue(rdb, redisStorage.QueueOptions{
		Stream:           cfg.Stream,
		Group:            cfg.Group,
		DeadLetterStream: cfg.DeadLetterStream,
		Block:            cfg.Block,
		Batch:            cfg.Batch,
	}, log)
}

// openStore connects the configured ledger store and applies migrations.
func openStore(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*ledgerStore, error) {
	if cfg.Driver == "memory" {
		log.Warn().Msg("using in-memory ledger store, state is lost on exit")
		mem := memStorage.NewStore()
		return &ledgerStore{
			walletRepo: memStorage.NewWalletRepo(mem),
			txRepo:     memStorage.NewTransactionRepo(mem),
			transactor: mem,
			close:      func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info().Msg("PostgreSQL connected")

	if cfg.Migrate {
		if err := pgStorage.Migrate(ctx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &ledgerStore{
		walletRepo: pgStorage.NewWalletRepo(pool),
		txRepo:     pgStorage.NewTransactionRepo(pool),
		transactor: pgStorage.NewTransactor(pool),
		health:     []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
		close:      pool.Close,
	}, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/di"
	"github.com/hanko-field/orderflow/internal/handlers"
	"github.com/hanko-field/orderflow/internal/platform/config"
	"github.com/hanko-field/orderflow/internal/platform/database"
	"github.com/hanko-field/orderflow/internal/platform/idempotency"
	"github.com/hanko-field/orderflow/internal/platform/observability"
	"github.com/hanko-field/orderflow/internal/platform/secrets"
	"github.com/hanko-field/orderflow/internal/repositories"
	"github.com/hanko-field/orderflow/internal/repositories/gormrepo"
	"github.com/hanko-field/orderflow/internal/services"
)

const secretHealthReference = "secret://system_healthz"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(envValues["API_SECRETS_PROJECT_ID"]),
		secrets.WithFallbackFile(envValues["API_SECRETS_FALLBACK_PATH"]),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	provider := database.NewProvider(cfg.Database, database.WithLogger(logger.Named("db")))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("database close error", zap.Error(err))
		}
	}()
	if _, err := provider.DB(ctx); err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err), zap.String("driver", cfg.Database.Driver))
	}

	rdb := di.NewRedisClient(cfg.Redis)
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	health, err := repositories.NewDependencyHealthRepository(dependencyChecks(provider, rdb, fetcher, cfg))
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	registry, err := gormrepo.NewRegistry(provider,
		gormrepo.WithHealth(health),
		gormrepo.WithTxOptions(
			database.WithTxAttempts(cfg.Database.TxAttempts),
			database.WithTxTimeout(cfg.Database.TxTimeout),
		),
	)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := registry.Migrate(ctx); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		logger.Info("schema migrated", zap.String("driver", cfg.Database.Driver))
	}

	publisher, stopPublisher, err := di.NewEventPublisher(ctx, cfg.Events, rdb, logger)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err), zap.String("backend", cfg.Events.Backend))
	}
	defer stopPublisher()

	container, err := di.NewContainer(ctx, cfg, registry,
		di.WithLogger(logger),
		di.WithEventPublisher(publisher),
		di.WithBuildInfo(buildInfo),
	)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}

	idempotencyStore, err := di.NewIdempotencyStore(cfg.Idempotency, rdb, cfg.Redis.KeyPrefix)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(svc.Orders, svc.Payments)
	paymentHandlers := handlers.NewPaymentHandlers(svc.Payments)
	inventoryHandlers := handlers.NewInventoryHandlers(svc.Inventory)
	couponHandlers := handlers.NewCouponHandlers(svc.Coupons)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.AccessLogMiddleware(observability.WithIdempotencyHeader(cfg.Idempotency.Header)),
		),
		handlers.WithAPIMiddlewares(idempotencyMiddleware),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithRootRoutes(couponHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithInventoryRoutes(inventoryHandlers.Routes),
		handlers.WithWebhookRoutes(paymentHandlers.WebhookRoutes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("orderflow api listening",
			zap.String("environment", cfg.Environment),
			zap.String("events", cfg.Events.Backend),
			zap.String("idempotency", cfg.Idempotency.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func dependencyChecks(provider *database.Provider, rdb *redis.Client, fetcher *secrets.Fetcher, cfg config.Config) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{
		{Name: "database", Timeout: 1500 * time.Millisecond, Check: provider.Ping},
	}
	if rdb != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
	}
	if strings.TrimSpace(cfg.Secrets.ProjectID) != "" {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return fetcher.Ping(ctx, secretHealthReference)
			},
		})
	}
	return checks
}

// requiredSecretNames demands the companion secrets of every gateway whose public key is configured.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.TrimSpace(env["API_PAYMENTS_STRIPE_API_KEY"]) != "" {
		required = append(required, "Payments.StripeAPIKey", "Payments.StripeWebhookSecret")
	}
	if strings.TrimSpace(env["API_PAYMENTS_RAZORPAY_KEY_ID"]) != "" {
		required = append(required, "Payments.RazorpayKeySecret", "Payments.RazorpayWebhookSecret")
	}
	if strings.TrimSpace(env["API_REDIS_ADDR"]) != "" && strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	return required
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Secrets.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Events.PubSubProjectID)
}

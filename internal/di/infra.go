package di

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/platform/config"
	"github.com/hanko-field/orderflow/internal/platform/events"
	"github.com/hanko-field/orderflow/internal/platform/idempotency"
	"github.com/hanko-field/orderflow/internal/platform/observability"
	"github.com/hanko-field/orderflow/internal/services"
)

// NewGateways registers every gateway whose credentials are configured. The manual gateway is
// always available.
func NewGateways(_ context.Context, cfg config.PaymentsConfig, logger *zap.Logger) (*payments.Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gateways := make(map[string]payments.Gateway)

	if strings.TrimSpace(cfg.StripeWebhookSecret) != "" {
		stripeGateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey:        cfg.StripeAPIKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Tolerance:     cfg.WebhookTolerance,
			Logger:        observability.EventLogger(logger.Named("stripe")),
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe gateway: %w", err)
		}
		gateways["stripe"] = stripeGateway
	}

	if strings.TrimSpace(cfg.RazorpayWebhookSecret) != "" {
		razorpayGateway, err := payments.NewRazorpayGateway(payments.RazorpayGatewayConfig{
			KeyID:         cfg.RazorpayKeyID,
			KeySecret:     cfg.RazorpayKeySecret,
			WebhookSecret: cfg.RazorpayWebhookSecret,
			Logger:        observability.EventLogger(logger.Named("razorpay")),
		})
		if err != nil {
			return nil, fmt.Errorf("build razorpay gateway: %w", err)
		}
		gateways["razorpay"] = razorpayGateway
	}

	names := make([]string, 0, len(cfg.SignedGatewaySecrets))
	for name := range cfg.SignedGatewaySecrets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, taken := gateways[strings.ToLower(name)]; taken {
			return nil, fmt.Errorf("signed gateway %q collides with a provider gateway", name)
		}
		signed, err := payments.NewSignedGateway(name, cfg.SignedGatewaySecrets[name])
		if err != nil {
			return nil, fmt.Errorf("build signed gateway %q: %w", name, err)
		}
		gateways[strings.ToLower(name)] = signed
	}

	opts := []payments.ManagerOption{payments.WithMethodRoutes(cfg.MethodRoutes)}
	if cfg.DefaultGateway != "" {
		if _, ok := gateways[cfg.DefaultGateway]; !ok && cfg.DefaultGateway != payments.ManualGatewayKey {
			return nil, fmt.Errorf("default gateway %q is not configured", cfg.DefaultGateway)
		}
		opts = append(opts, payments.WithDefaultGateway(cfg.DefaultGateway))
	}
	return payments.NewManager(gateways, opts...)
}

// NewRedisClient returns nil when no address is configured.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewEventPublisher builds the configured publisher. The returned stop function flushes and
// releases backend resources.
func NewEventPublisher(ctx context.Context, cfg config.EventsConfig, rdb *redis.Client, logger *zap.Logger) (services.EventPublisher, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "", config.EventsBackendLog:
		return events.NewLogPublisher(logger), noop, nil
	case config.EventsBackendRedis:
		if rdb == nil {
			return nil, noop, errors.New("redis event publisher requires API_REDIS_ADDR")
		}
		publisher, err := events.NewRedisPublisher(rdb, cfg.Channel)
		if err != nil {
			return nil, noop, err
		}
		return publisher, noop, nil
	case config.EventsBackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSubProjectID)
		if err != nil {
			return nil, noop, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.PubSubTopic)
		topic.EnableMessageOrdering = true
		publisher, err := events.NewPubSubPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return publisher, func() {
			publisher.Stop()
			if err := client.Close(); err != nil && logger != nil {
				logger.Warn("pubsub client close error", zap.Error(err))
			}
		}, nil
	default:
		return nil, noop, fmt.Errorf("unsupported events backend %q", cfg.Backend)
	}
}

// NewIdempotencyStore selects the replay store backing the idempotency middleware.
func NewIdempotencyStore(cfg config.IdempotencyConfig, rdb *redis.Client, keyPrefix string) (idempotency.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return idempotency.NewMemoryStore(), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis idempotency store requires API_REDIS_ADDR")
		}
		return idempotency.NewRedisStore(rdb, idempotency.WithKeyPrefix(keyPrefix+"idempotency:")), nil
	default:
		return nil, fmt.Errorf("unsupported idempotency backend %q", cfg.Backend)
	}
}

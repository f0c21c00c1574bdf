package di

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/platform/config"
	"github.com/hanko-field/orderflow/internal/platform/database/databasetest"
	"github.com/hanko-field/orderflow/internal/platform/events"
	"github.com/hanko-field/orderflow/internal/platform/idempotency"
	"github.com/hanko-field/orderflow/internal/repositories/gormrepo"
	"github.com/hanko-field/orderflow/internal/services"
)

type recordingPublisher struct {
	events []services.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event services.Event) error {
	p.events = append(p.events, event)
	return nil
}

func newTestConfig() config.Config {
	return config.Config{
		Environment: "test",
		Orders:      config.OrdersConfig{DefaultCurrency: "VND", CouponRetryAttempts: 3},
		Payments: config.PaymentsConfig{
			SignedGatewaySecrets: map[string]string{"momo": "momo-secret"},
			DefaultGateway:       "momo",
			MethodRoutes:         map[string]string{"e_wallet": "momo"},
		},
	}
}

func TestNewContainerWiresServices(t *testing.T) {
	provider, _ := databasetest.Open(t, gormrepo.Models()...)
	reg, err := gormrepo.NewRegistry(provider)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	publisher := &recordingPublisher{}
	container, err := NewContainer(context.Background(), newTestConfig(), reg,
		WithEventPublisher(publisher),
		WithClock(func() time.Time { return now }),
		WithBuildInfo(services.BuildInfo{Version: "1.2.3"}),
	)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	t.Cleanup(func() { _ = container.Close(context.Background()) })

	svc := container.Services
	if svc.Coupons == nil || svc.Inventory == nil || svc.Orders == nil || svc.Payments == nil || svc.System == nil {
		t.Fatalf("expected every service to be wired, got %+v", svc)
	}
	if container.Events != publisher {
		t.Fatalf("expected injected publisher to be kept")
	}

	key, _, err := container.Gateways.Resolve(payments.PaymentContext{Method: domain.PaymentMethodEWallet})
	if err != nil || key != "momo" {
		t.Fatalf("expected ewallet to route to momo, got %q (%v)", key, err)
	}

	report, err := svc.System.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Version != "1.2.3" || report.Environment != "test" {
		t.Fatalf("unexpected build info %+v", report)
	}
	if check, ok := report.Checks["database"]; !ok || check.Status != domain.HealthStatusOK {
		t.Fatalf("expected healthy database check, got %+v", report.Checks)
	}

	validation, err := svc.Coupons.ValidateCouponForOrder(context.Background(), "MISSING", 100_000)
	if err != nil {
		t.Fatalf("ValidateCouponForOrder: %v", err)
	}
	if validation.Valid || validation.Reason != domain.CouponRejectionNotFound {
		t.Fatalf("expected not_found rejection, got %+v", validation)
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), newTestConfig(), nil); err == nil {
		t.Fatal("expected error without registry")
	}
}

func TestNewGatewaysRejectsUnknownDefault(t *testing.T) {
	cfg := config.PaymentsConfig{DefaultGateway: "paypal"}
	if _, err := NewGateways(context.Background(), cfg, nil); err == nil || !strings.Contains(err.Error(), "paypal") {
		t.Fatalf("expected unknown default gateway error, got %v", err)
	}
}

func TestNewGatewaysRegistersProviders(t *testing.T) {
	cfg := config.PaymentsConfig{
		StripeAPIKey:          "sk_test",
		StripeWebhookSecret:   "whsec_test",
		RazorpayWebhookSecret: "rzp_webhook",
		SignedGatewaySecrets:  map[string]string{"VNPay": "vnpay-secret"},
	}
	manager, err := NewGateways(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewGateways: %v", err)
	}
	for _, name := range []string{"stripe", "razorpay", "vnpay", payments.ManualGatewayKey} {
		if _, err := manager.Gateway(name); err != nil {
			t.Fatalf("expected gateway %s: %v", name, err)
		}
	}
	if _, err := manager.ParseWebhook(context.Background(), "vnpay", http.Header{}, []byte(`{}`)); err == nil {
		t.Fatal("expected unsigned webhook to be rejected")
	}

	cfg.SignedGatewaySecrets = map[string]string{"Stripe": "dup"}
	if _, err := NewGateways(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected collision between signed and provider gateway")
	}
}

func TestNewEventPublisherBackends(t *testing.T) {
	ctx := context.Background()

	publisher, stop, err := NewEventPublisher(ctx, config.EventsConfig{Backend: config.EventsBackendLog}, nil, nil)
	if err != nil {
		t.Fatalf("log backend: %v", err)
	}
	stop()
	if _, ok := publisher.(*events.LogPublisher); !ok {
		t.Fatalf("expected log publisher, got %T", publisher)
	}

	if _, _, err := NewEventPublisher(ctx, config.EventsConfig{Backend: config.EventsBackendRedis, Channel: "orders"}, nil, nil); err == nil {
		t.Fatal("expected redis backend without client to fail")
	}

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = rdb.Close() })
	publisher, _, err = NewEventPublisher(ctx, config.EventsConfig{Backend: config.EventsBackendRedis, Channel: "orders"}, rdb, nil)
	if err != nil {
		t.Fatalf("redis backend: %v", err)
	}
	if _, ok := publisher.(*events.RedisPublisher); !ok {
		t.Fatalf("expected redis publisher, got %T", publisher)
	}

	if _, _, err := NewEventPublisher(ctx, config.EventsConfig{Backend: "kafka"}, nil, nil); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}

func TestNewIdempotencyStore(t *testing.T) {
	store, err := NewIdempotencyStore(config.IdempotencyConfig{Backend: "memory"}, nil, "orderflow:")
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, ok := store.(*idempotency.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	if _, err := NewIdempotencyStore(config.IdempotencyConfig{Backend: "redis"}, nil, "orderflow:"); err == nil {
		t.Fatal("expected redis store without client to fail")
	}

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = rdb.Close() })
	store, err = NewIdempotencyStore(config.IdempotencyConfig{Backend: "redis"}, rdb, "orderflow:")
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	if _, ok := store.(*idempotency.RedisStore); !ok {
		t.Fatalf("expected redis store, got %T", store)
	}
}

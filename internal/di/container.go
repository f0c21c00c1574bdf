package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/platform/config"
	"github.com/hanko-field/orderflow/internal/platform/events"
	"github.com/hanko-field/orderflow/internal/platform/observability"
	"github.com/hanko-field/orderflow/internal/repositories"
	"github.com/hanko-field/orderflow/internal/services"
)

const meterName = "github.com/hanko-field/orderflow"

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Coupons   services.CouponService
	Inventory services.InventoryService
	Orders    services.OrderService
	Payments  services.PaymentService
	System    services.SystemService
}

// Container wires repositories, gateways and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Gateways     *payments.Manager
	Events       services.EventPublisher
	Services     Services
}

type containerOptions struct {
	logger   *zap.Logger
	gateways *payments.Manager
	events   services.EventPublisher
	health   repositories.HealthRepository
	build    services.BuildInfo
	clock    func() time.Time
	meter    metric.Meter
}

// Option customises container assembly.
type Option func(*containerOptions)

// WithLogger sets the base logger; services log through it when no request logger is in scope.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithGateways supplies a prebuilt gateway manager instead of building one from config.
func WithGateways(manager *payments.Manager) Option {
	return func(o *containerOptions) {
		o.gateways = manager
	}
}

// WithEventPublisher overrides the publisher used for workflow events.
func WithEventPublisher(publisher services.EventPublisher) Option {
	return func(o *containerOptions) {
		o.events = publisher
	}
}

// WithHealthRepository replaces the registry's health checks for readiness reporting.
func WithHealthRepository(repo repositories.HealthRepository) Option {
	return func(o *containerOptions) {
		o.health = repo
	}
}

// WithBuildInfo records build metadata surfaced by health endpoints.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = info
	}
}

// WithClock injects the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// WithMeter injects the OpenTelemetry meter used for service metrics.
func WithMeter(meter metric.Meter) Option {
	return func(o *containerOptions) {
		o.meter = meter
	}
}

// NewContainer constructs the runtime dependencies over reg.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.meter == nil {
		o.meter = otel.GetMeterProvider().Meter(meterName)
	}
	if o.events == nil {
		o.events = events.NewLogPublisher(o.logger)
	}
	if o.gateways == nil {
		manager, err := NewGateways(ctx, cfg.Payments, o.logger.Named("payments"))
		if err != nil {
			return nil, err
		}
		o.gateways = manager
	}

	svc, err := buildServices(reg, cfg, o)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Gateways:     o.gateways,
		Events:       o.events,
		Services:     svc,
	}, nil
}

// Close releases repository resources.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, o containerOptions) (Services, error) {
	var svc Services
	logger := func(name string) func(context.Context, string, map[string]any) {
		return observability.EventLogger(o.logger.Named(name))
	}

	coupons, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons:       reg.Coupons(),
		Clock:         o.clock,
		RetryAttempts: cfg.Orders.CouponRetryAttempts,
		Meter:         o.meter,
		Logger:        logger("coupons"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = coupons

	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products:   reg.Products(),
		Logs:       reg.InventoryLogs(),
		UnitOfWork: reg,
		Clock:      o.clock,
		Logger:     logger("inventory"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventory

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Products:        reg.Products(),
		CouponRecords:   reg.Coupons(),
		Coupons:         coupons,
		Inventory:       inventory,
		UnitOfWork:      reg,
		Events:          o.events,
		DefaultCurrency: cfg.Orders.DefaultCurrency,
		Clock:           o.clock,
		Logger:          logger("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Transactions: reg.Payments(),
		Orders:       orders,
		Gateways:     o.gateways,
		UnitOfWork:   reg,
		Events:       o.events,
		Clock:        o.clock,
		Logger:       logger("payments"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	health := o.health
	if health == nil {
		health = reg.Health()
	}
	if health != nil {
		build := o.build
		if build.Environment == "" {
			build.Environment = cfg.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = o.clock().UTC()
		}
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            o.clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}

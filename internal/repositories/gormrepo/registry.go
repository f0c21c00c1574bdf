package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/hanko-field/orderflow/internal/platform/database"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// Registry wires the gorm repositories over a shared database provider.
type Registry struct {
	provider  *database.Provider
	txOptions []database.TxOption

	orders    *OrderRepository
	coupons   *CouponRepository
	payments  *PaymentTransactionRepository
	products  *ProductRepository
	inventory *InventoryLogRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises the registry.
type RegistryOption func(*Registry)

// WithTxOptions applies the options to every RunInTx call.
func WithTxOptions(opts ...database.TxOption) RegistryOption {
	return func(r *Registry) {
		r.txOptions = append(r.txOptions, opts...)
	}
}

// WithHealth installs the readiness repository.
func WithHealth(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

// NewRegistry builds every repository over provider.
func NewRegistry(provider *database.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("gorm registry requires database provider")
	}
	reg := &Registry{provider: provider}
	var err error
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.coupons, err = NewCouponRepository(provider); err != nil {
		return nil, err
	}
	if reg.payments, err = NewPaymentTransactionRepository(provider); err != nil {
		return nil, err
	}
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.inventory, err = NewInventoryLogRepository(provider); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	if reg.health == nil {
		health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
			{Name: "database", Check: provider.Ping},
		})
		if err != nil {
			return nil, err
		}
		reg.health = health
	}
	return reg, nil
}

// Migrate creates or updates the schema for every record type.
func (r *Registry) Migrate(ctx context.Context) error {
	db, err := r.provider.DB(ctx)
	if err != nil {
		return err
	}
	return database.WrapError("migrate", db.WithContext(ctx).AutoMigrate(Models()...))
}

func (r *Registry) Orders() repositories.OrderRepository                { return r.orders }
func (r *Registry) Coupons() repositories.CouponRepository              { return r.coupons }
func (r *Registry) Payments() repositories.PaymentTransactionRepository { return r.payments }
func (r *Registry) Products() repositories.ProductRepository            { return r.products }
func (r *Registry) InventoryLogs() repositories.InventoryLogRepository  { return r.inventory }
func (r *Registry) Health() repositories.HealthRepository               { return r.health }

// RunInTx runs fn in one serializable transaction; repositories called with the supplied ctx join it.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("gorm registry: transaction function is nil")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *gorm.DB) error {
		return fn(ctx)
	}, r.txOptions...)
}

// Close releases the database pool.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

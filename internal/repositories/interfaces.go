package repositories

import (
	"context"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Coupons() CouponRepository
	Payments() PaymentTransactionRepository
	Products() ProductRepository
	InventoryLogs() InventoryLogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one transactional boundary. Repositories invoked
// with the ctx handed to fn participate in the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists the order aggregate together with its line items and status history.
type OrderRepository interface {
	// Insert stores the order and its items, returning the aggregate with generated identifiers.
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	// Update writes order-level columns. Items are immutable once inserted.
	Update(ctx context.Context, order domain.Order) error
	// FindByID loads the order with its items. Missing orders return a RepositoryError with IsNotFound.
	FindByID(ctx context.Context, orderID uint64) (domain.Order, error)
	AppendHistory(ctx context.Context, entry domain.OrderStatusHistory) (domain.OrderStatusHistory, error)
	ListHistory(ctx context.Context, orderID uint64) ([]domain.OrderStatusHistory, error)
}

// CouponRepository reads coupons and performs guarded usage-counter updates.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	FindByID(ctx context.Context, couponID uint64) (domain.Coupon, error)
	// SwapUsage adds delta (+1 or -1) to used_count only when the stored version equals
	// expectedVersion and the change keeps used_count within [0, usage_limit]. It reports whether a
	// row was updated.
	SwapUsage(ctx context.Context, couponID uint64, expectedVersion int64, delta int) (bool, error)
}

// PaymentTransactionRepository stores gateway payment attempts.
type PaymentTransactionRepository interface {
	Insert(ctx context.Context, txn domain.PaymentTransaction) (domain.PaymentTransaction, error)
	Update(ctx context.Context, txn domain.PaymentTransaction) error
	FindByRef(ctx context.Context, transactionRef string) (domain.PaymentTransaction, error)
	FindByExternalID(ctx context.Context, gateway, externalID string) (domain.PaymentTransaction, error)
	ListByOrder(ctx context.Context, orderID uint64) ([]domain.PaymentTransaction, error)
}

// ProductRepository reads catalog rows and maintains the live stock counters.
type ProductRepository interface {
	FindByID(ctx context.Context, productID uint64) (domain.Product, error)
	FindVariant(ctx context.Context, productID, variantID uint64) (domain.ProductVariant, error)
	// SetStock overwrites the stock counter of the product, or of the variant when variantID is set.
	SetStock(ctx context.Context, productID uint64, variantID *uint64, stock int64) error
}

// InventoryLogFilter narrows inventory log listings.
type InventoryLogFilter struct {
	ProductID  uint64
	VariantID  *uint64
	Action     *domain.InventoryAction
	Pagination domain.Pagination
}

// InventoryLogRepository is an append-only store. It has no update or delete operations.
type InventoryLogRepository interface {
	Append(ctx context.Context, entry domain.InventoryLog) (domain.InventoryLog, error)
	List(ctx context.Context, filter InventoryLogFilter) (domain.CursorPage[domain.InventoryLog], error)
	// ListAll returns every entry for the product (or variant) in creation order.
	ListAll(ctx context.Context, productID uint64, variantID *uint64) ([]domain.InventoryLog, error)
}

// HealthRepository surfaces dependency status for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

package services

import (
	"context"
	"net/http"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	OrderStatusHistory = domain.OrderStatusHistory
	OrderFlags         = domain.OrderFlags
	PaymentStatus      = domain.PaymentStatus
	Receiver           = domain.Receiver
	Coupon             = domain.Coupon
	CouponRejection    = domain.CouponRejection
	PaymentTransaction = domain.PaymentTransaction
	TransactionStatus  = domain.TransactionStatus
	PaymentMethod      = domain.PaymentMethod
	InventoryLog       = domain.InventoryLog
	InventoryAction    = domain.InventoryAction
	InventoryReference = domain.InventoryReference
	SystemHealthReport = domain.SystemHealthReport
	Event              = domain.Event
)

// CouponService validates coupons and keeps the persisted usage counter consistent under concurrency.
type CouponService interface {
	ValidateCouponForOrder(ctx context.Context, code string, orderAmount int64) (CouponValidation, error)
	TryIncrementUsage(ctx context.Context, couponID uint64) (bool, error)
	IncrementUsage(ctx context.Context, couponID uint64) error
	DecrementUsage(ctx context.Context, couponID uint64) error
}

// OrderService owns the order aggregate: creation, coupon handling, fees and the status machine.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID uint64) (Order, error)
	ListStatusHistory(ctx context.Context, orderID uint64) ([]OrderStatusHistory, error)
	ApplyCouponToOrder(ctx context.Context, orderID uint64, code string) (CouponApplicationResult, error)
	RemoveCoupon(ctx context.Context, orderID uint64) (Order, error)
	UpdateFees(ctx context.Context, cmd UpdateFeesCommand) (Order, error)
	TransitionOrderStatus(ctx context.Context, cmd TransitionOrderCommand) (TransitionResult, error)
	MarkPaymentStatus(ctx context.Context, orderID uint64, status PaymentStatus) (Order, error)
}

// PaymentService records payment attempts and reconciles gateway callbacks against them.
type PaymentService interface {
	RecordPaymentAttempt(ctx context.Context, cmd RecordPaymentCommand) (PaymentTransaction, error)
	ApplyGatewayCallback(ctx context.Context, cb GatewayCallback) (CallbackResult, error)
	HandleWebhook(ctx context.Context, gateway string, headers http.Header, body []byte) (CallbackResult, error)
	Refund(ctx context.Context, cmd RefundCommand) (PaymentTransaction, error)
	ListTransactions(ctx context.Context, orderID uint64) ([]PaymentTransaction, error)
}

// InventoryService appends stock adjustments and replays the log.
type InventoryService interface {
	AppendInventoryAdjustment(ctx context.Context, cmd AppendAdjustmentCommand) (int64, error)
	ReconstructStock(ctx context.Context, productID uint64, variantID *uint64) (int64, error)
	ListAdjustments(ctx context.Context, filter InventoryLogFilter) (domain.CursorPage[InventoryLog], error)
}

// SystemService aggregates utility endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	Readiness(ctx context.Context) (SystemHealthReport, error)
}

// EventPublisher delivers domain events after the owning transaction commits.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Command and DTO definitions ------------------------------------------------

// CouponValidation reports whether a coupon may be applied and the discount it would grant.
type CouponValidation struct {
	Valid    bool
	Reason   CouponRejection
	Discount *int64
	Coupon   *Coupon
}

type OrderLine struct {
	ProductID uint64
	VariantID *uint64
	Quantity  int
}

type CreateOrderCommand struct {
	UserID         string
	Currency       string
	Lines          []OrderLine
	ShippingFee    int64
	TaxAmount      int64
	GiftWrapFee    int64
	DiscountAmount int64
	Receiver       Receiver
	DeliveryMethod string
	Notes          string
	Flags          OrderFlags
	CouponCode     *string
	ActorID        string
}

type CreateOrderResult struct {
	Order           Order
	CouponRejection CouponRejection
}

// CouponApplicationResult is returned by ApplyCouponToOrder. Rejections are not errors.
type CouponApplicationResult struct {
	Success        bool
	DiscountAmount *int64
	FailureReason  CouponRejection
	Order          Order
}

type UpdateFeesCommand struct {
	OrderID        uint64
	ShippingFee    *int64
	TaxAmount      *int64
	GiftWrapFee    *int64
	DiscountAmount *int64
}

type TransitionOrderCommand struct {
	OrderID        uint64
	TargetStatus   OrderStatus
	Note           string
	ActorID        string
	ExpectedStatus *OrderStatus
}

// TransitionResult reports the outcome of a status change. Illegal transitions are not errors.
type TransitionResult struct {
	Success       bool
	FailureReason string
	Order         Order
}

type RecordPaymentCommand struct {
	OrderID  uint64
	Gateway  string
	Method   PaymentMethod
	Amount   int64
	Currency string
}

// GatewayCallback is a normalised status report from a payment gateway. TransactionRef takes
// precedence over ExternalID for the lookup. Amount carries the cumulative refunded amount when the
// reported status is a refund.
type GatewayCallback struct {
	TransactionRef string
	ExternalID     string
	Gateway        string
	ReportedStatus TransactionStatus
	Payload        map[string]any
	Amount         *int64
	FailureReason  string
}

type CallbackResult struct {
	Accepted         bool
	IdempotentReplay bool
	Transaction      PaymentTransaction
}

type RefundCommand struct {
	TransactionRef string
	Amount         int64
	Reason         string
	ActorID        string
}

type AppendAdjustmentCommand struct {
	ProductID   uint64
	VariantID   *uint64
	Action      InventoryAction
	Quantity    int64
	Reason      string
	Reference   *InventoryReference
	ActorID     string
	UnitCost    *int64
	BatchNumber *string
	ExpiryDate  *time.Time
}

type InventoryLogFilter = repositories.InventoryLogFilter

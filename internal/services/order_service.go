package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/textutil"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	orderEventCreated              = "order.created"
	orderEventStatusChanged        = "order.status_changed"
	orderEventCouponApplied        = "order.coupon_applied"
	orderEventCouponRemoved        = "order.coupon_removed"
	orderEventPaymentStatusChanged = "order.payment_status_changed"

	orderNumberPrefix     = "ORD"
	orderNumberTimeLayout = "20060102150405"
	defaultOrderCurrency  = "VND"
	orderReferenceType    = "order"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order cannot accept the requested change in its current status.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderRepositoryUnavailable indicates the backing store could not be reached.
	ErrOrderRepositoryUnavailable = errors.New("order: repository unavailable")
)

var couponEditableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Products        repositories.ProductRepository
	CouponRecords   repositories.CouponRepository
	Coupons         CouponService
	Inventory       InventoryService
	UnitOfWork      repositories.UnitOfWork
	Events          EventPublisher
	DefaultCurrency string
	Clock           func() time.Time
	IDGenerator     func() string
	OrderNumber     func(now time.Time) string
	Sanitize        func(string) string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	products      repositories.ProductRepository
	couponRecords repositories.CouponRepository
	coupons       CouponService
	inventory     InventoryService
	unitOfWork    repositories.UnitOfWork
	events        EventPublisher
	currency      string
	clock         func() time.Time
	newID         func() string
	orderNumber   func(time.Time) string
	sanitize      func(string) string
	logger        func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service: coupon service is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	orderNumber := deps.OrderNumber
	if orderNumber == nil {
		orderNumber = defaultOrderNumber
	}

	sanitize := deps.Sanitize
	if sanitize == nil {
		sanitize = textutil.SanitizeFreeText
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultOrderCurrency
	}

	return &orderService{
		orders:        deps.Orders,
		products:      deps.Products,
		couponRecords: deps.CouponRecords,
		coupons:       deps.Coupons,
		inventory:     deps.Inventory,
		unitOfWork:    unit,
		events:        deps.Events,
		currency:      currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:       idGen,
		orderNumber: orderNumber,
		sanitize:    sanitize,
		logger:      logger,
	}, nil
}

// CreateOrder snapshots catalog data into line items, reserves stock and optionally applies a
// coupon, all in one transaction. A coupon rejection leaves the order without a coupon.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: order must contain at least one line", ErrOrderInvalidInput)
	}
	for i, line := range cmd.Lines {
		if line.ProductID == 0 {
			return CreateOrderResult{}, fmt.Errorf("%w: line %d product id is required", ErrOrderInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return CreateOrderResult{}, fmt.Errorf("%w: line %d quantity must be positive", ErrOrderInvalidInput, i)
		}
	}
	if err := validateFees(cmd.ShippingFee, cmd.TaxAmount, cmd.GiftWrapFee, cmd.DiscountAmount); err != nil {
		return CreateOrderResult{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}
	if len(currency) != 3 {
		return CreateOrderResult{}, fmt.Errorf("%w: currency must be a 3-letter code", ErrOrderInvalidInput)
	}

	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		actor = userID
	}
	code := couponCodeOrEmpty(cmd.CouponCode)

	var result CreateOrderResult
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		now := s.now()
		order := Order{
			OrderNumber:    s.orderNumber(now),
			UserID:         userID,
			Currency:       currency,
			ShippingFee:    cmd.ShippingFee,
			TaxAmount:      cmd.TaxAmount,
			GiftWrapFee:    cmd.GiftWrapFee,
			DiscountAmount: cmd.DiscountAmount,
			Status:         domain.OrderStatusPending,
			PaymentStatus:  domain.PaymentStatusUnpaid,
			Receiver:       cmd.Receiver,
			Shipment:       domain.Shipment{DeliveryMethod: strings.TrimSpace(cmd.DeliveryMethod)},
			Notes:          s.sanitize(cmd.Notes),
			Flags:          cmd.Flags,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		items, err := s.buildItems(txCtx, cmd.Lines, now)
		if err != nil {
			return err
		}
		order.Items = items
		order.CalculateTotals()

		created, err := s.orders.Insert(txCtx, order)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order = created

		if _, err := s.orders.AppendHistory(txCtx, OrderStatusHistory{
			OrderID:   order.ID,
			ToStatus:  domain.OrderStatusPending,
			Note:      "order created",
			ActorID:   actor,
			CreatedAt: now,
		}); err != nil {
			return s.mapRepositoryError(err)
		}

		if err := s.moveStock(txCtx, order, domain.InventoryActionSale, -1, actor); err != nil {
			return err
		}

		rejection := domain.CouponRejectionNone
		if code != "" {
			var applied bool
			applied, rejection, _, err = s.applyCoupon(txCtx, &order, code, now)
			if err != nil {
				return err
			}
			if applied {
				if err := s.orders.Update(txCtx, order); err != nil {
					return s.mapRepositoryError(err)
				}
			}
		}

		result = CreateOrderResult{Order: order, CouponRejection: rejection}
		return nil
	})
	if err != nil {
		return CreateOrderResult{}, err
	}

	if result.CouponRejection != domain.CouponRejectionNone {
		s.logger(ctx, "order.coupon.rejected", map[string]any{
			"orderID": result.Order.ID,
			"code":    code,
			"reason":  string(result.CouponRejection),
		})
	}
	s.publishEvent(ctx, orderEventCreated, result.Order, map[string]any{
		"orderNumber": result.Order.OrderNumber,
		"userID":      result.Order.UserID,
		"totalAmount": result.Order.TotalAmount,
		"currency":    result.Order.Currency,
	})
	return result, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID uint64) (Order, error) {
	if orderID == 0 {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListStatusHistory(ctx context.Context, orderID uint64) ([]OrderStatusHistory, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	history, err := s.orders.ListHistory(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return history, nil
}

// ApplyCouponToOrder attaches a coupon inside one transaction. The usage counter is only consumed
// when the order is persisted with the discount; every rejection leaves order and coupon untouched.
func (s *orderService) ApplyCouponToOrder(ctx context.Context, orderID uint64, code string) (CouponApplicationResult, error) {
	if orderID == 0 {
		return CouponApplicationResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if domain.NormalizeCouponCode(code) == "" {
		return CouponApplicationResult{}, fmt.Errorf("%w: coupon code is required", ErrOrderInvalidInput)
	}

	var result CouponApplicationResult
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		now := s.now()
		applied, rejection, discount, err := s.applyCoupon(txCtx, &order, code, now)
		if err != nil {
			return err
		}
		if !applied {
			result = CouponApplicationResult{FailureReason: rejection, Order: order}
			return nil
		}

		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		result = CouponApplicationResult{Success: true, DiscountAmount: &discount, Order: order}
		return nil
	})
	if err != nil {
		return CouponApplicationResult{}, err
	}

	if result.Success {
		s.publishEvent(ctx, orderEventCouponApplied, result.Order, map[string]any{
			"couponCode":     couponCodeOrEmpty(result.Order.CouponCode),
			"couponDiscount": result.Order.CouponDiscount,
			"totalAmount":    result.Order.TotalAmount,
		})
	} else {
		s.logger(ctx, "order.coupon.rejected", map[string]any{
			"orderID": orderID,
			"reason":  string(result.FailureReason),
		})
	}
	return result, nil
}

// RemoveCoupon clears the coupon fields and gives the use back. Orders without a coupon are returned unchanged.
func (s *orderService) RemoveCoupon(ctx context.Context, orderID uint64) (Order, error) {
	if orderID == 0 {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		order   Order
		removed bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		removed = false
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !order.HasCoupon() {
			return nil
		}
		if !isCouponEditable(order.Status) {
			return fmt.Errorf("%w: coupon cannot be removed from a %s order", ErrOrderInvalidState, order.Status)
		}

		couponID := *order.CouponID
		order.ClearCoupon()
		order.CalculateTotals()
		order.UpdatedAt = s.now()
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.coupons.DecrementUsage(txCtx, couponID); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if removed {
		s.publishEvent(ctx, orderEventCouponRemoved, order, map[string]any{
			"totalAmount": order.TotalAmount,
		})
	}
	return order, nil
}

// UpdateFees changes the order-level charges and recomputes totals. A free-shipping coupon
// follows the new shipping fee.
func (s *orderService) UpdateFees(ctx context.Context, cmd UpdateFeesCommand) (Order, error) {
	if cmd.OrderID == 0 {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if err := validateFees(derefInt64(cmd.ShippingFee), derefInt64(cmd.TaxAmount), derefInt64(cmd.GiftWrapFee), derefInt64(cmd.DiscountAmount)); err != nil {
		return Order{}, err
	}

	var order Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !isCouponEditable(order.Status) {
			return fmt.Errorf("%w: fees cannot change on a %s order", ErrOrderInvalidState, order.Status)
		}

		if cmd.ShippingFee != nil {
			order.ShippingFee = *cmd.ShippingFee
		}
		if cmd.TaxAmount != nil {
			order.TaxAmount = *cmd.TaxAmount
		}
		if cmd.GiftWrapFee != nil {
			order.GiftWrapFee = *cmd.GiftWrapFee
		}
		if cmd.DiscountAmount != nil {
			order.DiscountAmount = *cmd.DiscountAmount
		}

		if order.HasCoupon() && cmd.ShippingFee != nil && s.couponRecords != nil {
			coupon, err := s.couponRecords.FindByID(txCtx, *order.CouponID)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			if coupon.DiscountType == domain.DiscountTypeFreeShipping {
				order.CouponDiscount = coupon.DiscountFor(order.SubTotal, order.ShippingFee)
			}
		}

		order.CalculateTotals()
		order.UpdatedAt = s.now()
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// TransitionOrderStatus moves the order along the status table. A transition the table does not
// allow is reported in the result and nothing is written.
func (s *orderService) TransitionOrderStatus(ctx context.Context, cmd TransitionOrderCommand) (TransitionResult, error) {
	if cmd.OrderID == 0 {
		return TransitionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(string(cmd.TargetStatus))
	if !ok {
		return TransitionResult{}, fmt.Errorf("%w: unknown target status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	note := s.sanitize(cmd.Note)

	var (
		result     TransitionResult
		prevStatus OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
			return fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
		}

		prevStatus = order.Status
		history, err := order.Transition(target, s.now(), note, actor)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				result = TransitionResult{FailureReason: err.Error(), Order: order}
				return nil
			}
			return err
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if _, err := s.orders.AppendHistory(txCtx, history); err != nil {
			return s.mapRepositoryError(err)
		}

		if target == domain.OrderStatusCancelled {
			if err := s.moveStock(txCtx, order, domain.InventoryActionCancellation, 1, actor); err != nil {
				return err
			}
			if order.HasCoupon() {
				if err := s.coupons.DecrementUsage(txCtx, *order.CouponID); err != nil {
					return err
				}
			}
		}

		result = TransitionResult{Success: true, Order: order}
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}

	if !result.Success {
		s.logger(ctx, "order.transition.rejected", map[string]any{
			"orderID": cmd.OrderID,
			"from":    string(result.Order.Status),
			"to":      string(target),
		})
		return result, nil
	}

	s.publishEvent(ctx, orderEventStatusChanged, result.Order, map[string]any{
		"previousStatus": string(prevStatus),
		"currentStatus":  string(result.Order.Status),
		"actorID":        actor,
		"note":           note,
	})
	return result, nil
}

// MarkPaymentStatus updates the payment axis only. The fulfilment status is never touched.
func (s *orderService) MarkPaymentStatus(ctx context.Context, orderID uint64, status PaymentStatus) (Order, error) {
	if orderID == 0 {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !isKnownPaymentStatus(status) {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, status)
	}

	var (
		order   Order
		changed bool
		prev    PaymentStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		changed = false
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		prev = order.PaymentStatus
		if prev == status {
			return nil
		}

		now := s.now()
		order.PaymentStatus = status
		switch status {
		case domain.PaymentStatusPaid:
			if order.Dates.PaidAt == nil {
				order.Dates.PaidAt = &now
			}
		case domain.PaymentStatusRefunded:
			if order.Dates.RefundedAt == nil {
				order.Dates.RefundedAt = &now
			}
		}
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if changed {
		s.publishEvent(ctx, orderEventPaymentStatusChanged, order, map[string]any{
			"previousPaymentStatus": string(prev),
			"paymentStatus":         string(order.PaymentStatus),
		})
	}
	return order, nil
}

// applyCoupon validates and attaches the coupon, consuming one use. applied is false with a
// rejection reason when the coupon cannot be used; the order is then left as it was.
func (s *orderService) applyCoupon(ctx context.Context, order *Order, code string, now time.Time) (bool, CouponRejection, int64, error) {
	if !isCouponEditable(order.Status) {
		return false, domain.CouponRejectionOrderNotEditable, 0, nil
	}
	if order.HasCoupon() {
		return false, domain.CouponRejectionAlreadyApplied, 0, nil
	}

	order.CalculateTotals()
	validation, err := s.coupons.ValidateCouponForOrder(ctx, code, order.SubTotal)
	if err != nil {
		return false, domain.CouponRejectionNone, 0, err
	}
	if !validation.Valid {
		return false, validation.Reason, 0, nil
	}

	coupon := validation.Coupon
	application, err := order.ApplyCoupon(coupon, now, func() (bool, error) {
		return s.coupons.TryIncrementUsage(ctx, coupon.ID)
	})
	if err != nil {
		return false, domain.CouponRejectionNone, 0, err
	}
	if !application.Applied {
		return false, application.Rejection, 0, nil
	}
	return true, domain.CouponRejectionNone, application.Discount, nil
}

func (s *orderService) buildItems(ctx context.Context, lines []OrderLine, now time.Time) ([]OrderItem, error) {
	items := make([]OrderItem, 0, len(lines))
	for _, line := range lines {
		product, err := s.products.FindByID(ctx, line.ProductID)
		if err != nil {
			return nil, s.mapCatalogError(err, line.ProductID)
		}
		if !product.Active {
			return nil, fmt.Errorf("%w: product %d is not available", ErrOrderInvalidInput, product.ID)
		}

		var variant *domain.ProductVariant
		if line.VariantID != nil {
			found, err := s.products.FindVariant(ctx, line.ProductID, *line.VariantID)
			if err != nil {
				return nil, s.mapCatalogError(err, line.ProductID)
			}
			variant = &found
		}

		snapshot, price := product.Snapshot(variant)
		item := OrderItem{
			ProductID: product.ID,
			VariantID: cloneUint64Ptr(line.VariantID),
			Quantity:  line.Quantity,
			UnitPrice: price,
			Snapshot:  snapshot,
			CreatedAt: now,
		}
		item.Recalculate()
		items = append(items, item)
	}
	return items, nil
}

// moveStock appends one inventory entry per line item. sign is -1 to reserve and +1 to return stock.
func (s *orderService) moveStock(ctx context.Context, order Order, action domain.InventoryAction, sign int64, actor string) error {
	ref := &InventoryReference{Type: orderReferenceType, ID: strconv.FormatUint(order.ID, 10)}
	for _, item := range order.Items {
		if _, err := s.inventory.AppendInventoryAdjustment(ctx, AppendAdjustmentCommand{
			ProductID: item.ProductID,
			VariantID: cloneUint64Ptr(item.VariantID),
			Action:    action,
			Quantity:  sign * int64(item.Quantity),
			Reason:    fmt.Sprintf("order %s %s", order.OrderNumber, action),
			Reference: ref,
			ActorID:   actor,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *orderService) mapCatalogError(err error, productID uint64) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: product %d not found", ErrOrderInvalidInput, productID)
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %w", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %w", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrOrderRepositoryUnavailable, err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, eventType string, order Order, payload map[string]any) {
	if s.events == nil {
		return
	}
	event := Event{
		ID:         s.newID(),
		Type:       eventType,
		OrderID:    order.ID,
		OccurredAt: s.now(),
		Payload:    maps.Clone(payload),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":    event.Type,
			"orderID": order.ID,
			"error":   err.Error(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func defaultOrderNumber(now time.Time) string {
	return fmt.Sprintf("%s%s%06d", orderNumberPrefix, now.UTC().Format(orderNumberTimeLayout), rand.IntN(1_000_000))
}

func validateFees(values ...int64) error {
	for _, v := range values {
		if v < 0 {
			return fmt.Errorf("%w: fees and discounts must not be negative", ErrOrderInvalidInput)
		}
	}
	return nil
}

func isCouponEditable(status OrderStatus) bool {
	return slices.Contains(couponEditableStatuses, status)
}

func isKnownPaymentStatus(status PaymentStatus) bool {
	switch status {
	case domain.PaymentStatusUnpaid, domain.PaymentStatusPending, domain.PaymentStatusPaid,
		domain.PaymentStatusFailed, domain.PaymentStatusPartiallyRefunded, domain.PaymentStatusRefunded:
		return true
	}
	return false
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func cloneUint64Ptr(v *uint64) *uint64 {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// OrderStatus enumerates the fulfilment lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state right after checkout.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates staff accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being picked and packed.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the parcel was handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusOutForDelivery indicates the carrier is on the last mile.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered indicates the customer received the parcel.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before shipping.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned indicates a delivered order came back.
	OrderStatusReturned OrderStatus = "returned"
	// OrderStatusRefunded indicates money for a cancelled or returned order was paid back.
	OrderStatusRefunded OrderStatus = "refunded"
)

// PaymentStatus tracks the money axis of an order, independent from fulfilment.
type PaymentStatus string

const (
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusRefunded          PaymentStatus = "refunded"
)

// ReturnWindow bounds how long after delivery a return may be requested.
const ReturnWindow = 30 * 24 * time.Hour

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:      {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:     {OrderStatusShipped},
	OrderStatusShipped:        {OrderStatusOutForDelivery, OrderStatusDelivered},
	OrderStatusOutForDelivery: {OrderStatusDelivered},
	OrderStatusDelivered:      {OrderStatusReturned},
	OrderStatusCancelled:      {OrderStatusRefunded},
	OrderStatusReturned:       {OrderStatusRefunded},
}

var knownOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
	OrderStatusRefunded,
}

// ErrInvalidTransition is matched by every TransitionError.
var ErrInvalidTransition = errors.New("order: invalid status transition")

// TransitionError reports a status change that the adjacency table does not allow.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ParseOrderStatus normalises raw input into a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if slices.Contains(knownOrderStatuses, status) {
		return status, true
	}
	return "", false
}

// CanTransition reports whether from -> to is listed in the adjacency table.
func CanTransition(from, to OrderStatus) bool {
	return slices.Contains(orderStatusTransitions[from], to)
}

// AllowedTransitions returns the statuses reachable from the given one.
func AllowedTransitions(from OrderStatus) []OrderStatus {
	return slices.Clone(orderStatusTransitions[from])
}

// ProductSnapshot is the catalog data a customer saw when ordering.
type ProductSnapshot struct {
	ProductName string
	SKU         string
	ImageURL    string
	VariantName string
}

// OrderItem is an immutable product line of an order.
type OrderItem struct {
	ID         uint64
	OrderID    uint64
	ProductID  uint64
	VariantID  *uint64
	Quantity   int
	UnitPrice  int64
	TotalPrice int64
	Snapshot   ProductSnapshot
	CreatedAt  time.Time
}

// Recalculate refreshes TotalPrice from UnitPrice and Quantity.
func (i *OrderItem) Recalculate() {
	i.TotalPrice = i.UnitPrice * int64(i.Quantity)
}

// OrderDates holds the milestone timestamps stamped by status transitions.
type OrderDates struct {
	ConfirmedAt      *time.Time
	ProcessingAt     *time.Time
	ShippedAt        *time.Time
	OutForDeliveryAt *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
	ReturnedAt       *time.Time
	RefundedAt       *time.Time
	PaidAt           *time.Time
}

// OrderFlags stores handling indicators chosen at checkout.
type OrderFlags struct {
	Gift    bool
	Urgent  bool
	Insured bool
}

// Order is the purchase aggregate: line items, totals, status and coupon.
type Order struct {
	ID             uint64
	OrderNumber    string
	UserID         string
	Currency       string
	SubTotal       int64
	ShippingFee    int64
	TaxAmount      int64
	DiscountAmount int64
	GiftWrapFee    int64
	CouponDiscount int64
	TotalAmount    int64
	CouponID       *uint64
	CouponCode     *string
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	Receiver       Receiver
	Shipment       Shipment
	Dates          OrderDates
	Notes          string
	Flags          OrderFlags
	Items          []OrderItem
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderStatusHistory is one append-only audit row per accepted transition.
type OrderStatusHistory struct {
	ID         uint64
	OrderID    uint64
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Note       string
	ActorID    string
	CreatedAt  time.Time
}

// CalculateTotals derives SubTotal from the line items and floors TotalAmount at zero.
func (o *Order) CalculateTotals() {
	var subtotal int64
	for i := range o.Items {
		o.Items[i].Recalculate()
		subtotal += o.Items[i].TotalPrice
	}
	o.SubTotal = subtotal

	total := o.SubTotal + o.ShippingFee + o.TaxAmount + o.GiftWrapFee - o.DiscountAmount - o.CouponDiscount
	if total < 0 {
		total = 0
	}
	o.TotalAmount = total
}

// HasCoupon reports whether a coupon is attached.
func (o *Order) HasCoupon() bool {
	return o.CouponID != nil
}

// SetCoupon attaches a coupon and its discount. Negative discounts are clamped to zero.
func (o *Order) SetCoupon(couponID uint64, code string, discount int64) {
	if discount < 0 {
		discount = 0
	}
	id := couponID
	c := code
	o.CouponID = &id
	o.CouponCode = &c
	o.CouponDiscount = discount
}

// ClearCoupon removes every coupon field.
func (o *Order) ClearCoupon() {
	o.CouponID = nil
	o.CouponCode = nil
	o.CouponDiscount = 0
}

// UsageReserver commits one coupon use. It returns false when the limit was reached.
type UsageReserver func() (bool, error)

// CouponApplication is the outcome of Order.ApplyCoupon.
type CouponApplication struct {
	Applied   bool
	Discount  int64
	Rejection CouponRejection
}

// ApplyCoupon validates the coupon against a freshly computed subtotal, stores the discount and
// then commits usage through reserve. A failed reservation restores the previous coupon state.
func (o *Order) ApplyCoupon(c *Coupon, now time.Time, reserve UsageReserver) (CouponApplication, error) {
	if c == nil {
		return CouponApplication{Rejection: CouponRejectionNotFound}, nil
	}
	if o.HasCoupon() {
		return CouponApplication{Rejection: CouponRejectionAlreadyApplied}, nil
	}

	o.CalculateTotals()
	if rejection := c.Check(o.SubTotal, now); rejection != CouponRejectionNone {
		return CouponApplication{Rejection: rejection}, nil
	}

	discount := c.DiscountFor(o.SubTotal, o.ShippingFee)
	o.SetCoupon(c.ID, c.Code, discount)
	o.CalculateTotals()

	if reserve == nil {
		reserve = func() (bool, error) { return c.TryIncrementUsage(), nil }
	}
	ok, err := reserve()
	if err != nil || !ok {
		o.ClearCoupon()
		o.CalculateTotals()
		if err != nil {
			return CouponApplication{}, err
		}
		return CouponApplication{Rejection: CouponRejectionUsageLimitReached}, nil
	}
	return CouponApplication{Applied: true, Discount: discount}, nil
}

// Transition moves the order to the target status, stamping the matching date field, and
// returns the history row to append.
func (o *Order) Transition(to OrderStatus, now time.Time, note, actorID string) (OrderStatusHistory, error) {
	from := o.Status
	if !CanTransition(from, to) {
		return OrderStatusHistory{}, &TransitionError{From: from, To: to}
	}

	o.Status = to
	o.stampDate(to, now)
	o.UpdatedAt = now

	return OrderStatusHistory{
		OrderID:    o.ID,
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
		ActorID:    actorID,
		CreatedAt:  now,
	}, nil
}

func (o *Order) stampDate(status OrderStatus, now time.Time) {
	ts := now
	switch status {
	case OrderStatusConfirmed:
		o.Dates.ConfirmedAt = &ts
	case OrderStatusProcessing:
		o.Dates.ProcessingAt = &ts
	case OrderStatusShipped:
		o.Dates.ShippedAt = &ts
	case OrderStatusOutForDelivery:
		o.Dates.OutForDeliveryAt = &ts
	case OrderStatusDelivered:
		o.Dates.DeliveredAt = &ts
	case OrderStatusCancelled:
		o.Dates.CancelledAt = &ts
	case OrderStatusReturned:
		o.Dates.ReturnedAt = &ts
	case OrderStatusRefunded:
		o.Dates.RefundedAt = &ts
	}
}

// CanCancel reports whether the order may still be cancelled.
func (o Order) CanCancel() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusConfirmed
}

// CanShip reports whether the order is ready to hand to a carrier.
func (o Order) CanShip() bool {
	return o.Status == OrderStatusConfirmed || o.Status == OrderStatusProcessing
}

// CanDeliver reports whether the order is with a carrier.
func (o Order) CanDeliver() bool {
	return o.Status == OrderStatusShipped || o.Status == OrderStatusOutForDelivery
}

// CanReturn reports whether a delivered order is still inside the return window.
func (o Order) CanReturn(now time.Time) bool {
	if o.Status != OrderStatusDelivered || o.Dates.DeliveredAt == nil {
		return false
	}
	return now.Sub(*o.Dates.DeliveredAt) <= ReturnWindow
}

func (o Order) IsCompleted() bool { return o.Status == OrderStatusDelivered }
func (o Order) IsCancelled() bool { return o.Status == OrderStatusCancelled }
func (o Order) IsReturned() bool  { return o.Status == OrderStatusReturned }
func (o Order) IsRefunded() bool  { return o.Status == OrderStatusRefunded }
func (o Order) IsPaid() bool      { return o.PaymentStatus == PaymentStatusPaid }

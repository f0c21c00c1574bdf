package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DiscountType selects how a coupon computes its discount.
type DiscountType string

const (
	DiscountTypePercentage   DiscountType = "percentage"
	DiscountTypeFixedAmount  DiscountType = "fixed_amount"
	DiscountTypeFreeShipping DiscountType = "free_shipping"
)

// CouponRejection names the validation rule a coupon failed. The empty value means valid.
type CouponRejection string

const (
	CouponRejectionNone              CouponRejection = ""
	CouponRejectionNotFound          CouponRejection = "not_found"
	CouponRejectionInactive          CouponRejection = "inactive"
	CouponRejectionNotStarted        CouponRejection = "not_started"
	CouponRejectionExpired           CouponRejection = "expired"
	CouponRejectionUsageLimitReached CouponRejection = "usage_limit_reached"
	CouponRejectionMinimumNotMet     CouponRejection = "minimum_not_met"
	CouponRejectionAlreadyApplied    CouponRejection = "already_applied"
	CouponRejectionOrderNotEditable  CouponRejection = "order_not_editable"
)

// ErrCouponUsageLimitReached is returned by IncrementUsage when no uses remain.
var ErrCouponUsageLimitReached = errors.New("coupon: usage limit reached")

var couponCodeCaser = cases.Upper(language.Und)

// NormalizeCouponCode trims and upper-cases a human-entered code.
func NormalizeCouponCode(code string) string {
	return couponCodeCaser.String(strings.TrimSpace(code))
}

// Coupon is a named discount rule with usage accounting guarded by Version.
type Coupon struct {
	ID             uint64
	Code           string
	Name           string
	DiscountType   DiscountType
	Value          decimal.Decimal
	MinOrderAmount *int64
	MaxDiscount    *int64
	UsageLimit     *int
	UsedCount      int
	StartsAt       time.Time
	EndsAt         *time.Time
	Active         bool
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Check returns the first failed rule for the order amount, or CouponRejectionNone.
func (c Coupon) Check(orderAmount int64, now time.Time) CouponRejection {
	switch {
	case !c.Active:
		return CouponRejectionInactive
	case !c.StartsAt.IsZero() && now.Before(c.StartsAt):
		return CouponRejectionNotStarted
	case c.EndsAt != nil && now.After(*c.EndsAt):
		return CouponRejectionExpired
	case !c.HasCapacity():
		return CouponRejectionUsageLimitReached
	case c.MinOrderAmount != nil && orderAmount < *c.MinOrderAmount:
		return CouponRejectionMinimumNotMet
	}
	return CouponRejectionNone
}

// IsValidForOrder fails closed on any rule violation. It has no side effects.
func (c Coupon) IsValidForOrder(orderAmount int64, now time.Time) bool {
	return c.Check(orderAmount, now) == CouponRejectionNone
}

// HasCapacity reports whether another use fits under the usage limit.
func (c Coupon) HasCapacity() bool {
	return c.UsageLimit == nil || c.UsedCount < *c.UsageLimit
}

// TryIncrementUsage consumes one use when the limit allows it.
func (c *Coupon) TryIncrementUsage() bool {
	if !c.HasCapacity() {
		return false
	}
	c.UsedCount++
	c.Version++
	return true
}

// IncrementUsage consumes one use, failing when the limit is exhausted.
func (c *Coupon) IncrementUsage() error {
	if !c.TryIncrementUsage() {
		return ErrCouponUsageLimitReached
	}
	return nil
}

// DecrementUsage gives one use back, never going below zero.
func (c *Coupon) DecrementUsage() {
	if c.UsedCount > 0 {
		c.UsedCount--
	}
	c.Version++
}

// DiscountFor computes the discount the coupon grants on the given subtotal and shipping fee.
func (c Coupon) DiscountFor(subtotal, shippingFee int64) int64 {
	var discount int64
	switch c.DiscountType {
	case DiscountTypePercentage:
		discount = decimal.NewFromInt(subtotal).
			Mul(c.Value).
			Div(decimal.NewFromInt(100)).
			Floor().
			IntPart()
		if c.MaxDiscount != nil && discount > *c.MaxDiscount {
			discount = *c.MaxDiscount
		}
	case DiscountTypeFixedAmount:
		discount = min(c.Value.Floor().IntPart(), subtotal)
	case DiscountTypeFreeShipping:
		discount = shippingFee
	}
	if discount < 0 {
		return 0
	}
	return discount
}

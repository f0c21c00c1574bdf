package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCouponCheckRules(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)
	base := Coupon{
		Code:           "SPRING",
		DiscountType:   DiscountTypeFixedAmount,
		Value:          decimal.NewFromInt(20_000),
		MinOrderAmount: int64Ptr(100_000),
		UsageLimit:     intPtr(5),
		Active:         true,
		StartsAt:       past,
		EndsAt:         &future,
	}

	cases := []struct {
		name   string
		mutate func(c *Coupon)
		amount int64
		want   CouponRejection
	}{
		{name: "valid", amount: 150_000, want: CouponRejectionNone},
		{name: "inactive", mutate: func(c *Coupon) { c.Active = false }, amount: 150_000, want: CouponRejectionInactive},
		{name: "not started", mutate: func(c *Coupon) { c.StartsAt = future }, amount: 150_000, want: CouponRejectionNotStarted},
		{name: "expired", mutate: func(c *Coupon) { c.EndsAt = &past }, amount: 150_000, want: CouponRejectionExpired},
		{name: "limit", mutate: func(c *Coupon) { c.UsedCount = 5 }, amount: 150_000, want: CouponRejectionUsageLimitReached},
		{name: "minimum", amount: 99_999, want: CouponRejectionMinimumNotMet},
		{name: "minimum boundary", amount: 100_000, want: CouponRejectionNone},
		{name: "no limit", mutate: func(c *Coupon) { c.UsageLimit = nil; c.UsedCount = 1_000 }, amount: 150_000, want: CouponRejectionNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coupon := base
			if tc.mutate != nil {
				tc.mutate(&coupon)
			}
			if got := coupon.Check(tc.amount, now); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
			if coupon.IsValidForOrder(tc.amount, now) != (tc.want == CouponRejectionNone) {
				t.Fatalf("IsValidForOrder disagrees with Check")
			}
		})
	}
}

func TestCouponUsageAccounting(t *testing.T) {
	coupon := Coupon{UsageLimit: intPtr(1)}

	if !coupon.TryIncrementUsage() {
		t.Fatalf("expected first increment to succeed")
	}
	if coupon.TryIncrementUsage() {
		t.Fatalf("expected second increment to fail")
	}
	if coupon.UsedCount != 1 || coupon.Version != 1 {
		t.Fatalf("unexpected counters used=%d version=%d", coupon.UsedCount, coupon.Version)
	}
	if err := coupon.IncrementUsage(); !errors.Is(err, ErrCouponUsageLimitReached) {
		t.Fatalf("expected ErrCouponUsageLimitReached, got %v", err)
	}

	coupon.DecrementUsage()
	coupon.DecrementUsage()
	if coupon.UsedCount != 0 {
		t.Fatalf("expected used count floored at zero, got %d", coupon.UsedCount)
	}
	if err := coupon.IncrementUsage(); err != nil {
		t.Fatalf("expected increment after decrement: %v", err)
	}
}

func TestCouponDiscountFor(t *testing.T) {
	cases := []struct {
		name     string
		coupon   Coupon
		subtotal int64
		shipping int64
		want     int64
	}{
		{
			name:     "percentage capped",
			coupon:   Coupon{DiscountType: DiscountTypePercentage, Value: decimal.NewFromInt(10), MaxDiscount: int64Ptr(40_000)},
			subtotal: 500_000,
			want:     40_000,
		},
		{
			name:     "percentage uncapped",
			coupon:   Coupon{DiscountType: DiscountTypePercentage, Value: decimal.NewFromInt(10)},
			subtotal: 500_000,
			want:     50_000,
		},
		{
			name:     "fractional percentage rounds down",
			coupon:   Coupon{DiscountType: DiscountTypePercentage, Value: decimal.RequireFromString("12.5")},
			subtotal: 99_999,
			want:     12_499,
		},
		{
			name:     "fixed bounded by subtotal",
			coupon:   Coupon{DiscountType: DiscountTypeFixedAmount, Value: decimal.NewFromInt(80_000)},
			subtotal: 50_000,
			want:     50_000,
		},
		{
			name:     "free shipping",
			coupon:   Coupon{DiscountType: DiscountTypeFreeShipping},
			subtotal: 500_000,
			shipping: 30_000,
			want:     30_000,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.coupon.DiscountFor(tc.subtotal, tc.shipping); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestNormalizeCouponCode(t *testing.T) {
	if got := NormalizeCouponCode("  summer10 "); got != "SUMMER10" {
		t.Fatalf("expected SUMMER10, got %q", got)
	}
}

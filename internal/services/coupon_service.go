package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	defaultCouponRetryAttempts = 5
	servicesMetricNamespace    = "github.com/hanko-field/orderflow/internal/services"
)

var (
	// ErrCouponInvalidInput signals malformed coupon requests.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates the coupon does not exist.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponConflict indicates the usage counter kept changing underneath the caller. Retryable.
	ErrCouponConflict = errors.New("coupon: concurrent usage update")
	// ErrCouponRepositoryUnavailable indicates the backing store could not be reached.
	ErrCouponRepositoryUnavailable = errors.New("coupon: repository unavailable")
	// ErrCouponUsageLimitReached is returned by IncrementUsage when no uses remain.
	ErrCouponUsageLimitReached = domain.ErrCouponUsageLimitReached
)

// CouponServiceDeps bundles collaborators required to construct the coupon service.
type CouponServiceDeps struct {
	Coupons       repositories.CouponRepository
	Clock         func() time.Time
	RetryAttempts int
	Meter         metric.Meter
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons   repositories.CouponRepository
	clock     func() time.Time
	attempts  int
	conflicts metric.Int64Counter
	logger    func(context.Context, string, map[string]any)
}

var _ CouponService = (*couponService)(nil)

// NewCouponService wires the coupon ledger.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	attempts := deps.RetryAttempts
	if attempts <= 0 {
		attempts = defaultCouponRetryAttempts
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(servicesMetricNamespace)
	}
	conflicts, err := meter.Int64Counter(
		"coupon.usage.conflicts",
		metric.WithDescription("Coupon usage updates abandoned after exhausting version retries"),
	)
	if err != nil {
		return nil, fmt.Errorf("coupon service: register conflict metric: %w", err)
	}

	return &couponService{
		coupons: deps.Coupons,
		clock: func() time.Time {
			return clock().UTC()
		},
		attempts:  attempts,
		conflicts: conflicts,
		logger:    logger,
	}, nil
}

func (s *couponService) ValidateCouponForOrder(ctx context.Context, code string, orderAmount int64) (CouponValidation, error) {
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return CouponValidation{}, fmt.Errorf("%w: coupon code is required", ErrCouponInvalidInput)
	}
	if orderAmount < 0 {
		return CouponValidation{}, fmt.Errorf("%w: order amount must not be negative", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrCouponNotFound) {
			return CouponValidation{Reason: domain.CouponRejectionNotFound}, nil
		}
		return CouponValidation{}, mapped
	}

	if rejection := coupon.Check(orderAmount, s.clock()); rejection != domain.CouponRejectionNone {
		return CouponValidation{Reason: rejection, Coupon: &coupon}, nil
	}

	result := CouponValidation{Valid: true, Coupon: &coupon}
	if coupon.DiscountType != domain.DiscountTypeFreeShipping {
		discount := coupon.DiscountFor(orderAmount, 0)
		result.Discount = &discount
	}
	return result, nil
}

// TryIncrementUsage consumes one use through a version-guarded swap. It returns false when the
// limit is exhausted and ErrCouponConflict when the version keeps moving.
func (s *couponService) TryIncrementUsage(ctx context.Context, couponID uint64) (bool, error) {
	if couponID == 0 {
		return false, fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}
	for attempt := 1; attempt <= s.attempts; attempt++ {
		coupon, err := s.coupons.FindByID(ctx, couponID)
		if err != nil {
			return false, s.mapRepositoryError(err)
		}
		if !coupon.HasCapacity() {
			return false, nil
		}
		swapped, err := s.coupons.SwapUsage(ctx, couponID, coupon.Version, 1)
		if err != nil {
			return false, s.mapRepositoryError(err)
		}
		if swapped {
			return true, nil
		}
	}
	return false, s.conflict(ctx, couponID, "increment")
}

func (s *couponService) IncrementUsage(ctx context.Context, couponID uint64) error {
	ok, err := s.TryIncrementUsage(ctx, couponID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: coupon %d", ErrCouponUsageLimitReached, couponID)
	}
	return nil
}

// DecrementUsage gives one use back. A counter already at zero is left untouched.
func (s *couponService) DecrementUsage(ctx context.Context, couponID uint64) error {
	if couponID == 0 {
		return fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}
	for attempt := 1; attempt <= s.attempts; attempt++ {
		coupon, err := s.coupons.FindByID(ctx, couponID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if coupon.UsedCount <= 0 {
			return nil
		}
		swapped, err := s.coupons.SwapUsage(ctx, couponID, coupon.Version, -1)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if swapped {
			return nil
		}
	}
	return s.conflict(ctx, couponID, "decrement")
}

func (s *couponService) conflict(ctx context.Context, couponID uint64, op string) error {
	s.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	s.logger(ctx, "coupon.usage.conflict", map[string]any{
		"couponID": couponID,
		"op":       op,
		"attempts": s.attempts,
	})
	return fmt.Errorf("%w: coupon %d changed during %s after %d attempts", ErrCouponConflict, couponID, op, s.attempts)
}

func (s *couponService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %w", ErrCouponNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %w", ErrCouponConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrCouponRepositoryUnavailable, err)
		}
	}
	return err
}

func couponCodeOrEmpty(code *string) string {
	if code == nil {
		return ""
	}
	return strings.TrimSpace(*code)
}

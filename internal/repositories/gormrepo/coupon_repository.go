package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/database"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// CouponRepository reads coupons and applies version-guarded usage updates.
type CouponRepository struct {
	provider *database.Provider
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

func NewCouponRepository(provider *database.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires database provider")
	}
	return &CouponRepository{provider: provider}, nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	db, err := conn(ctx, r.provider)
	if err != nil {
		return domain.Coupon{}, err
	}
	var rec couponRecord
	if err := db.First(&rec, "code = ?", domain.NormalizeCouponCode(code)).Error; err != nil {
		return domain.Coupon{}, database.WrapError("coupons.find_by_code", err)
	}
	return rec.toDomain(), nil
}

func (r *CouponRepository) FindByID(ctx context.Context, couponID uint64) (domain.Coupon, error) {
	db, err := conn(ctx, r.provider)
	if err != nil {
		return domain.Coupon{}, err
	}
	var rec couponRecord
	if err := db.First(&rec, "id = ?", couponID).Error; err != nil {
		return domain.Coupon{}, database.WrapError("coupons.find", err)
	}
	return rec.toDomain(), nil
}

func (r *CouponRepository) SwapUsage(ctx context.Context, couponID uint64, expectedVersion int64, delta int) (bool, error) {
	if delta != 1 && delta != -1 {
		return false, errors.New("coupons.swap_usage: delta must be +1 or -1")
	}
	db, err := conn(ctx, r.provider)
	if err != nil {
		return false, err
	}

	query := db.Model(&couponRecord{}).
		Where("id = ? AND version = ?", couponID, expectedVersion)
	if delta > 0 {
		query = query.Where("(usage_limit IS NULL OR used_count < usage_limit)")
	} else {
		query = query.Where("used_count > 0")
	}
	result := query.Updates(map[string]any{
		"used_count": gorm.Expr("used_count + ?", delta),
		"version":    gorm.Expr("version + 1"),
	})
	if result.Error != nil {
		return false, database.WrapError("coupons.swap_usage", result.Error)
	}
	return result.RowsAffected == 1, nil
}

package gormrepo

import (
	"context"
	"errors"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/database"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// ProductRepository reads catalog rows and writes the live stock counters.
type ProductRepository struct {
	provider *database.Provider
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *database.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires database provider")
	}
	return &ProductRepository{provider: provider}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID uint64) (domain.Product, error) {
	db, err := conn(ctx, r.provider)
	if err != nil {
		return domain.Product{}, err
	}
	var rec productRecord
	if err := db.First(&rec, "id = ?", productID).Error; err != nil {
		return domain.Product{}, database.WrapError("products.find", err)
	}
	return rec.toDomain(), nil
}

func (r *ProductRepository) FindVariant(ctx context.Context, productID, variantID uint64) (domain.ProductVariant, error) {
	db, err := conn(ctx, r.provider)
	if err != nil {
		return domain.ProductVariant{}, err
	}
	var rec productVariantRecord
	if err := db.First(&rec, "id = ? AND product_id = ?", variantID, productID).Error; err != nil {
		return domain.ProductVariant{}, database.WrapError("products.find_variant", err)
	}
	return rec.toDomain(), nil
}

func (r *ProductRepository) SetStock(ctx context.Context, productID uint64, variantID *uint64, stock int64) error {
	db, err := conn(ctx, r.provider)
	if err != nil {
		return err
	}

	op := "products.set_stock"
	query := db.Model(&productRecord{}).Where("id = ?", productID)
	if variantID != nil {
		op = "products.set_variant_stock"
		query = db.Model(&productVariantRecord{}).Where("id = ? AND product_id = ?", *variantID, productID)
	}
	result := query.Update("stock", stock)
	if result.Error != nil {
		return database.WrapError(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return database.NotFound(op, "product %d not found", productID)
	}
	return nil
}

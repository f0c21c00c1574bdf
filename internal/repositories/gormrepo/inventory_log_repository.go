package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/database"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// InventoryLogRepository appends and lists inventory_logs rows. Rows are never updated.
type InventoryLogRepository struct {
	provider *database.Provider
}

var _ repositories.InventoryLogRepository = (*InventoryLogRepository)(nil)

func NewInventoryLogRepository(provider *database.Provider) (*InventoryLogRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory log repository requires database provider")
	}
	return &InventoryLogRepository{provider: provider}, nil
}

func (r *InventoryLogRepository) Append(ctx context.Context, entry domain.InventoryLog) (domain.InventoryLog, error) {
	if entry.NewStock != entry.PreviousStock+entry.Quantity {
		return domain.InventoryLog{}, errors.New("inventory_logs.append: new stock must equal previous stock plus quantity")
	}
	db, err := conn(ctx, r.provider)
	if err != nil {
		return domain.InventoryLog{}, err
	}
	rec := newInventoryLogRecord(entry)
	rec.ID = 0
	if err := db.Create(&rec).Error; err != nil {
		return domain.InventoryLog{}, database.WrapError("inventory_logs.append", err)
	}
	return rec.toDomain(), nil
}

func (r *InventoryLogRepository) List(ctx context.Context, filter repositories.InventoryLogFilter) (domain.CursorPage[domain.InventoryLog], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.InventoryLog]{}, err
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	db, err := conn(ctx, r.provider)
	if err != nil {
		return domain.CursorPage[domain.InventoryLog]{}, err
	}
	query := scopeProduct(db, filter.ProductID, filter.VariantID)
	if filter.Action != nil {
		query = query.Where("action = ?", string(*filter.Action))
	}
	if cursor.AfterID > 0 {
		query = query.Where("id > ?", cursor.AfterID)
	}

	var recs []inventoryLogRecord
	if err := query.Order("id ASC").Limit(pageSize + 1).Find(&recs).Error; err != nil {
		return domain.CursorPage[domain.InventoryLog]{}, database.WrapError("inventory_logs.list", err)
	}

	page := domain.CursorPage[domain.InventoryLog]{}
	if len(recs) > pageSize {
		recs = recs[:pageSize]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{AfterID: recs[len(recs)-1].ID})
	}
	page.Items = make([]domain.InventoryLog, 0, len(recs))
	for _, rec := range recs {
		page.Items = append(page.Items, rec.toDomain())
	}
	return page, nil
}

func (r *InventoryLogRepository) ListAll(ctx context.Context, productID uint64, variantID *uint64) ([]domain.InventoryLog, error) {
	db, err := conn(ctx, r.provider)
	if err != nil {
		return nil, err
	}
	var recs []inventoryLogRecord
	if err := scopeProduct(db, productID, variantID).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, database.WrapError("inventory_logs.list_all", err)
	}
	logs := make([]domain.InventoryLog, 0, len(recs))
	for _, rec := range recs {
		logs = append(logs, rec.toDomain())
	}
	return logs, nil
}

// scopeProduct restricts to the product counter when variantID is nil, otherwise to the variant counter.
func scopeProduct(db *gorm.DB, productID uint64, variantID *uint64) *gorm.DB {
	query := db.Model(&inventoryLogRecord{}).Where("product_id = ?", productID)
	if variantID != nil {
		return query.Where("variant_id = ?", *variantID)
	}
	return query.Where("variant_id IS NULL")
}

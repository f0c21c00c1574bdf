package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/database"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// OrderRepository stores orders, their items and the status history in relational tables.
type OrderRepository struct {
	provider *database.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *database.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires database provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	db, err := conn(ctx, r.provider)
	if err != nil {
		return domain.Order{}, err
	}
	rec := newOrderRecord(order)
	rec.ID = 0
	for i := range rec.Items {
		rec.Items[i].ID = 0
		rec.Items[i].OrderID = 0
	}
	if err := db.Create(&rec).Error; err != nil {
		return domain.Order{}, database.WrapError("orders.insert", err)
	}
	return rec.toDomain(), nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if order.ID == 0 {
		return errors.New("orders.update: id is required")
	}
	db, err := conn(ctx, r.provider)
	if err != nil {
		return err
	}
	rec := newOrderRecord(order)
	rec.Items = nil
	result := db.Model(&orderRecord{ID: rec.ID}).
		Select("*").
		Omit("id", "created_at", clause.Associations).
		Updates(&rec)
	if result.Error != nil {
		return database.WrapError("orders.update", result.Error)
	}
	if result.RowsAffected == 0 {
		return database.NotFound("orders.update", "order %d not found", order.ID)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID uint64) (domain.Order, error) {
	db, err := conn(ctx, r.provider)
	if err != nil {
		return domain.Order{}, err
	}
	var rec orderRecord
	err = db.Preload("Items", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("id ASC")
	}).First(&rec, "id = ?", orderID).Error
	if err != nil {
		return domain.Order{}, database.WrapError("orders.find", err)
	}
	return rec.toDomain(), nil
}

func (r *OrderRepository) AppendHistory(ctx context.Context, entry domain.OrderStatusHistory) (domain.OrderStatusHistory, error) {
	db, err := conn(ctx, r.provider)
	if err != nil {
		return domain.OrderStatusHistory{}, err
	}
	rec := newHistoryRecord(entry)
	rec.ID = 0
	if err := db.Create(&rec).Error; err != nil {
		return domain.OrderStatusHistory{}, database.WrapError("orders.history.append", err)
	}
	return rec.toDomain(), nil
}

func (r *OrderRepository) ListHistory(ctx context.Context, orderID uint64) ([]domain.OrderStatusHistory, error) {
	db, err := conn(ctx, r.provider)
	if err != nil {
		return nil, err
	}
	var recs []orderStatusHistoryRecord
	if err := db.Where("order_id = ?", orderID).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, database.WrapError("orders.history.list", err)
	}
	history := make([]domain.OrderStatusHistory, 0, len(recs))
	for _, rec := range recs {
		history = append(history, rec.toDomain())
	}
	return history, nil
}

func conn(ctx context.Context, provider *database.Provider) (*gorm.DB, error) {
	if tx, ok := database.TxFromContext(ctx); ok {
		return tx, nil
	}
	db, err := provider.DB(ctx)
	if err != nil {
		return nil, database.WrapError("connect", err)
	}
	return db.WithContext(ctx), nil
}

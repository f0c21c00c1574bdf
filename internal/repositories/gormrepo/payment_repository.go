package gormrepo

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/database"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// PaymentTransactionRepository persists gateway payment attempts.
type PaymentTransactionRepository struct {
	provider *database.Provider
}

var _ repositories.PaymentTransactionRepository = (*PaymentTransactionRepository)(nil)

func NewPaymentTransactionRepository(provider *database.Provider) (*PaymentTransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("payment transaction repository requires database provider")
	}
	return &PaymentTransactionRepository{provider: provider}, nil
}

func (r *PaymentTransactionRepository) Insert(ctx context.Context, txn domain.PaymentTransaction) (domain.PaymentTransaction, error) {
	if strings.TrimSpace(txn.TransactionRef) == "" {
		return domain.PaymentTransaction{}, errors.New("payments.insert: transaction ref is required")
	}
	db, err := conn(ctx, r.provider)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	rec := newPaymentRecord(txn)
	rec.ID = 0
	if err := db.Create(&rec).Error; err != nil {
		return domain.PaymentTransaction{}, database.WrapError("payments.insert", err)
	}
	return rec.toDomain(), nil
}

func (r *PaymentTransactionRepository) Update(ctx context.Context, txn domain.PaymentTransaction) error {
	if txn.ID == 0 {
		return errors.New("payments.update: id is required")
	}
	db, err := conn(ctx, r.provider)
	if err != nil {
		return err
	}
	rec := newPaymentRecord(txn)
	result := db.Model(&paymentTransactionRecord{ID: rec.ID}).
		Select("*").
		Omit("id", "transaction_ref", "order_id", "created_at").
		Updates(&rec)
	if result.Error != nil {
		return database.WrapError("payments.update", result.Error)
	}
	if result.RowsAffected == 0 {
		return database.NotFound("payments.update", "transaction %s not found", txn.TransactionRef)
	}
	return nil
}

func (r *PaymentTransactionRepository) FindByRef(ctx context.Context, transactionRef string) (domain.PaymentTransaction, error) {
	db, err := conn(ctx, r.provider)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	var rec paymentTransactionRecord
	if err := db.First(&rec, "transaction_ref = ?", strings.TrimSpace(transactionRef)).Error; err != nil {
		return domain.PaymentTransaction{}, database.WrapError("payments.find_by_ref", err)
	}
	return rec.toDomain(), nil
}

func (r *PaymentTransactionRepository) FindByExternalID(ctx context.Context, gateway, externalID string) (domain.PaymentTransaction, error) {
	db, err := conn(ctx, r.provider)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	var rec paymentTransactionRecord
	err = db.First(&rec, "gateway = ? AND external_id = ?",
		strings.ToLower(strings.TrimSpace(gateway)), strings.TrimSpace(externalID)).Error
	if err != nil {
		return domain.PaymentTransaction{}, database.WrapError("payments.find_by_external_id", err)
	}
	return rec.toDomain(), nil
}

func (r *PaymentTransactionRepository) ListByOrder(ctx context.Context, orderID uint64) ([]domain.PaymentTransaction, error) {
	db, err := conn(ctx, r.provider)
	if err != nil {
		return nil, err
	}
	var recs []paymentTransactionRecord
	if err := db.Where("order_id = ?", orderID).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, database.WrapError("payments.list_by_order", err)
	}
	txns := make([]domain.PaymentTransaction, 0, len(recs))
	for _, rec := range recs {
		txns = append(txns, rec.toDomain())
	}
	return txns, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/platform/textutil"
	"github.com/hanko-field/orderflow/internal/repositories"
)

var (
	// ErrInventoryInvalidInput indicates the adjustment request is malformed.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates the adjustment would take stock below zero.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryProductNotFound indicates the product or variant does not exist.
	ErrInventoryProductNotFound = errors.New("inventory: product not found")
	// ErrInventoryConflict indicates concurrent writers touched the same stock counter.
	ErrInventoryConflict = errors.New("inventory: conflict")
	// ErrInventoryRepositoryUnavailable indicates the backing store could not be reached.
	ErrInventoryRepositoryUnavailable = errors.New("inventory: repository unavailable")
)

// InventoryServiceDeps bundles collaborators required to construct the inventory service.
type InventoryServiceDeps struct {
	Products   repositories.ProductRepository
	Logs       repositories.InventoryLogRepository
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Sanitize   func(string) string
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products   repositories.ProductRepository
	logs       repositories.InventoryLogRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	sanitize   func(string) string
	logger     func(context.Context, string, map[string]any)
}

var _ InventoryService = (*inventoryService)(nil)

// NewInventoryService constructs the inventory adjustment log service.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	if deps.Logs == nil {
		return nil, errors.New("inventory service: inventory log repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	sanitize := deps.Sanitize
	if sanitize == nil {
		sanitize = textutil.SanitizeFreeText
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		products:   deps.Products,
		logs:       deps.Logs,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

// AppendInventoryAdjustment records a signed stock delta and moves the live counter in the same
// transaction. It returns the stock after the adjustment.
func (s *inventoryService) AppendInventoryAdjustment(ctx context.Context, cmd AppendAdjustmentCommand) (int64, error) {
	if cmd.ProductID == 0 {
		return 0, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	action, ok := domain.ParseInventoryAction(string(cmd.Action))
	if !ok {
		return 0, fmt.Errorf("%w: unknown action %q", ErrInventoryInvalidInput, cmd.Action)
	}
	if cmd.Quantity == 0 {
		return 0, fmt.Errorf("%w: quantity must not be zero", ErrInventoryInvalidInput)
	}
	if cmd.UnitCost != nil && *cmd.UnitCost < 0 {
		return 0, fmt.Errorf("%w: unit cost must not be negative", ErrInventoryInvalidInput)
	}

	entry := InventoryLog{
		ProductID:   cmd.ProductID,
		VariantID:   cloneUint64Ptr(cmd.VariantID),
		Action:      action,
		Quantity:    cmd.Quantity,
		UnitCost:    cmd.UnitCost,
		BatchNumber: trimmedPtr(cmd.BatchNumber),
		ExpiryDate:  cmd.ExpiryDate,
		Reason:      s.sanitize(cmd.Reason),
		ActorID:     strings.TrimSpace(cmd.ActorID),
	}
	if cmd.Reference != nil {
		entry.Reference = InventoryReference{
			Type: strings.TrimSpace(cmd.Reference.Type),
			ID:   strings.TrimSpace(cmd.Reference.ID),
		}
	}

	var saved InventoryLog
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		previous, err := s.currentStock(txCtx, cmd.ProductID, cmd.VariantID)
		if err != nil {
			return err
		}
		next, err := domain.NextStock(previous, cmd.Quantity)
		if err != nil {
			return fmt.Errorf("%w: product %d has %d, adjustment %d", ErrInventoryInsufficientStock, cmd.ProductID, previous, cmd.Quantity)
		}

		entry.PreviousStock = previous
		entry.NewStock = next
		entry.CreatedAt = s.clock()

		saved, err = s.logs.Append(txCtx, entry)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.products.SetStock(txCtx, cmd.ProductID, cmd.VariantID, next); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger(ctx, "inventory.adjusted", map[string]any{
		"productID": saved.ProductID,
		"variantID": saved.VariantID,
		"action":    string(saved.Action),
		"quantity":  saved.Quantity,
		"newStock":  saved.NewStock,
	})
	return saved.NewStock, nil
}

// ReconstructStock replays every entry of the product (or variant) counter from zero.
func (s *inventoryService) ReconstructStock(ctx context.Context, productID uint64, variantID *uint64) (int64, error) {
	if productID == 0 {
		return 0, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if _, err := s.currentStock(ctx, productID, variantID); err != nil {
		return 0, err
	}
	logs, err := s.logs.ListAll(ctx, productID, variantID)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	return domain.ReplayStock(logs), nil
}

func (s *inventoryService) ListAdjustments(ctx context.Context, filter InventoryLogFilter) (domain.CursorPage[InventoryLog], error) {
	if filter.ProductID == 0 {
		return domain.CursorPage[InventoryLog]{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if filter.Action != nil {
		action, ok := domain.ParseInventoryAction(string(*filter.Action))
		if !ok {
			return domain.CursorPage[InventoryLog]{}, fmt.Errorf("%w: unknown action %q", ErrInventoryInvalidInput, *filter.Action)
		}
		filter.Action = &action
	}
	switch {
	case filter.Pagination.PageSize <= 0:
		filter.Pagination.PageSize = pagination.DefaultPageSize
	case filter.Pagination.PageSize > pagination.DefaultMaxPageSize:
		filter.Pagination.PageSize = pagination.DefaultMaxPageSize
	}

	page, err := s.logs.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[InventoryLog]{}, fmt.Errorf("%w: %v", ErrInventoryInvalidInput, err)
		}
		return domain.CursorPage[InventoryLog]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *inventoryService) currentStock(ctx context.Context, productID uint64, variantID *uint64) (int64, error) {
	if variantID != nil {
		variant, err := s.products.FindVariant(ctx, productID, *variantID)
		if err != nil {
			return 0, s.mapRepositoryError(err)
		}
		return variant.Stock, nil
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	return product.Stock, nil
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %w", ErrInventoryProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %w", ErrInventoryConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrInventoryRepositoryUnavailable, err)
		}
	}
	return err
}

func (s *inventoryService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

package gormrepo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/database"
	"github.com/hanko-field/orderflow/internal/platform/database/databasetest"
	"github.com/hanko-field/orderflow/internal/repositories"
)

func newTestRegistry(t *testing.T) (*Registry, func(records ...any)) {
	t.Helper()
	provider, db := databasetest.Open(t, Models()...)
	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	seed := func(records ...any) {
		t.Helper()
		for _, rec := range records {
			if err := db.Create(rec).Error; err != nil {
				t.Fatalf("seed %T: %v", rec, err)
			}
		}
	}
	return reg, seed
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func TestOrderRepositoryRoundTrip(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	code := "SPRING"
	couponID := uint64(7)
	variantID := uint64(3)

	order := domain.Order{
		OrderNumber:   "ORD20250101000000123456",
		UserID:        "user-1",
		Currency:      "VND",
		ShippingFee:   30_000,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Receiver:      domain.Receiver{Name: "Lan", Province: "Hanoi"},
		Flags:         domain.OrderFlags{Gift: true},
		Items: []domain.OrderItem{
			{ProductID: 1, Quantity: 2, UnitPrice: 100_000, Snapshot: domain.ProductSnapshot{ProductName: "Mug", SKU: "MUG"}},
			{ProductID: 2, VariantID: &variantID, Quantity: 1, UnitPrice: 50_000, Snapshot: domain.ProductSnapshot{ProductName: "Tee", SKU: "TEE-M", VariantName: "M"}},
		},
	}
	order.CalculateTotals()

	created, err := reg.Orders().Insert(ctx, order)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if created.ID == 0 || len(created.Items) != 2 || created.Items[0].OrderID != created.ID {
		t.Fatalf("expected generated ids, got %+v", created)
	}

	created.SetCoupon(couponID, code, 20_000)
	created.CalculateTotals()
	created.Status = domain.OrderStatusConfirmed
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	created.Dates.ConfirmedAt = &now
	if err := reg.Orders().Update(ctx, created); err != nil {
		t.Fatalf("Update: %v", err)
	}

	loaded, err := reg.Orders().FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if loaded.Status != domain.OrderStatusConfirmed || loaded.CouponDiscount != 20_000 || loaded.CouponCode == nil || *loaded.CouponCode != code {
		t.Fatalf("unexpected order after update %+v", loaded)
	}
	if loaded.TotalAmount != 260_000 {
		t.Fatalf("expected total 260000, got %d", loaded.TotalAmount)
	}
	if loaded.Dates.ConfirmedAt == nil || !loaded.Dates.ConfirmedAt.Equal(now) {
		t.Fatalf("expected confirmed date %s, got %v", now, loaded.Dates.ConfirmedAt)
	}
	if len(loaded.Items) != 2 || loaded.Items[1].Snapshot.VariantName != "M" || loaded.Items[1].VariantID == nil {
		t.Fatalf("unexpected items %+v", loaded.Items)
	}
	if !loaded.Flags.Gift || loaded.Receiver.Province != "Hanoi" {
		t.Fatalf("unexpected receiver or flags %+v", loaded)
	}

	if _, err := reg.Orders().FindByID(ctx, 999); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := reg.Orders().Update(ctx, domain.Order{ID: 999}); !isNotFound(err) {
		t.Fatalf("expected not found on update, got %v", err)
	}
}

func TestOrderRepositoryHistoryIsOrdered(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, step := range []struct{ from, to domain.OrderStatus }{
		{"", domain.OrderStatusPending},
		{domain.OrderStatusPending, domain.OrderStatusConfirmed},
		{domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	} {
		if _, err := reg.Orders().AppendHistory(ctx, domain.OrderStatusHistory{OrderID: 1, FromStatus: step.from, ToStatus: step.to}); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	history, err := reg.Orders().ListHistory(ctx, 1)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(history) != 3 || history[2].ToStatus != domain.OrderStatusCancelled || history[0].FromStatus != "" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestCouponRepositorySwapUsage(t *testing.T) {
	reg, seed := newTestRegistry(t)
	ctx := context.Background()
	limit := 1
	seed(&couponRecord{Code: "ONCE", DiscountType: string(domain.DiscountTypeFixedAmount), Value: decimal.NewFromInt(10_000), UsageLimit: &limit, IsActive: true})

	coupon, err := reg.Coupons().FindByCode(ctx, " once ")
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}

	ok, err := reg.Coupons().SwapUsage(ctx, coupon.ID, coupon.Version+1, 1)
	if err != nil || ok {
		t.Fatalf("expected stale version to be rejected, got ok=%v err=%v", ok, err)
	}
	ok, err = reg.Coupons().SwapUsage(ctx, coupon.ID, coupon.Version, 1)
	if err != nil || !ok {
		t.Fatalf("expected increment, got ok=%v err=%v", ok, err)
	}
	ok, err = reg.Coupons().SwapUsage(ctx, coupon.ID, coupon.Version+1, 1)
	if err != nil || ok {
		t.Fatalf("expected limit to block increment, got ok=%v err=%v", ok, err)
	}

	after, err := reg.Coupons().FindByID(ctx, coupon.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if after.UsedCount != 1 || after.Version != coupon.Version+1 {
		t.Fatalf("unexpected coupon counters %+v", after)
	}

	ok, err = reg.Coupons().SwapUsage(ctx, coupon.ID, after.Version, -1)
	if err != nil || !ok {
		t.Fatalf("expected decrement, got ok=%v err=%v", ok, err)
	}
	ok, err = reg.Coupons().SwapUsage(ctx, coupon.ID, after.Version+1, -1)
	if err != nil || ok {
		t.Fatalf("expected floor at zero, got ok=%v err=%v", ok, err)
	}

	if _, err := reg.Coupons().FindByCode(ctx, "missing"); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPaymentRepositoryLookups(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	external := "pi_123"

	txn, err := reg.Payments().Insert(ctx, domain.PaymentTransaction{
		TransactionRef: "01HZXKQ4W2A8V3M5N6P7Q8R9ST",
		OrderID:        5,
		Gateway:        "stripe",
		Method:         domain.PaymentMethodCard,
		ExternalID:     &external,
		Amount:         100_000,
		Currency:       "VND",
		Status:         domain.TransactionStatusPending,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	txn.ApplyStatus(domain.TransactionStatusPaid, now)
	txn.GatewayPayload = map[string]any{"id": "evt_1", "amount": float64(100000)}
	if err := reg.Payments().Update(ctx, txn); err != nil {
		t.Fatalf("Update: %v", err)
	}

	byRef, err := reg.Payments().FindByRef(ctx, txn.TransactionRef)
	if err != nil {
		t.Fatalf("FindByRef: %v", err)
	}
	if byRef.Status != domain.TransactionStatusPaid || byRef.CompletedAt == nil || byRef.GatewayPayload["id"] != "evt_1" {
		t.Fatalf("unexpected transaction %+v", byRef)
	}

	byExternal, err := reg.Payments().FindByExternalID(ctx, "STRIPE", external)
	if err != nil || byExternal.ID != txn.ID {
		t.Fatalf("FindByExternalID: %+v %v", byExternal, err)
	}

	list, err := reg.Payments().ListByOrder(ctx, 5)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByOrder: %v %v", list, err)
	}

	dup := txn
	dup.TransactionRef = "01HZXKQ4W2A8V3M5N6P7Q8R9SV"
	_, err = reg.Payments().Insert(ctx, dup)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict for duplicate external id, got %v", err)
	}
}

func TestInventoryRepositoriesAppendAndPage(t *testing.T) {
	reg, seed := newTestRegistry(t)
	ctx := context.Background()
	seed(&productRecord{SKU: "MUG", Name: "Mug", Price: 100_000, IsActive: true})

	product, err := reg.Products().FindByID(ctx, 1)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}

	stock := product.Stock
	for _, qty := range []int64{10, -3, -2} {
		next, err := domain.NextStock(stock, qty)
		if err != nil {
			t.Fatalf("NextStock: %v", err)
		}
		if _, err := reg.InventoryLogs().Append(ctx, domain.InventoryLog{
			ProductID: product.ID, Action: domain.InventoryActionAdjustment, Quantity: qty, PreviousStock: stock, NewStock: next,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := reg.Products().SetStock(ctx, product.ID, nil, next); err != nil {
			t.Fatalf("SetStock: %v", err)
		}
		stock = next
	}

	if _, err := reg.InventoryLogs().Append(ctx, domain.InventoryLog{ProductID: product.ID, Quantity: 1, PreviousStock: 5, NewStock: 7}); err == nil {
		t.Fatalf("expected inconsistent snapshot to be rejected")
	}

	page, err := reg.InventoryLogs().List(ctx, repositories.InventoryLogFilter{ProductID: product.ID, Pagination: domain.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 2 || page.NextPageToken == "" {
		t.Fatalf("unexpected first page %+v", page)
	}
	next, err := reg.InventoryLogs().List(ctx, repositories.InventoryLogFilter{ProductID: product.ID, Pagination: domain.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(next.Items) != 1 || next.NextPageToken != "" || next.Items[0].Quantity != -2 {
		t.Fatalf("unexpected second page %+v", next)
	}

	all, err := reg.InventoryLogs().ListAll(ctx, product.ID, nil)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	reloaded, err := reg.Products().FindByID(ctx, product.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if domain.ReplayStock(all) != reloaded.Stock || reloaded.Stock != 5 {
		t.Fatalf("replay %d does not match stock %d", domain.ReplayStock(all), reloaded.Stock)
	}

	variantID := uint64(42)
	if err := reg.Products().SetStock(ctx, product.ID, &variantID, 1); !isNotFound(err) {
		t.Fatalf("expected not found variant, got %v", err)
	}
}

func TestRegistryRunInTxRollsBack(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	sentinel := errors.New("abort")

	err := reg.RunInTx(ctx, func(ctx context.Context) error {
		if _, ok := database.TxFromContext(ctx); !ok {
			t.Fatalf("expected tx on context")
		}
		if _, err := reg.Orders().AppendHistory(ctx, domain.OrderStatusHistory{OrderID: 9, ToStatus: domain.OrderStatusPending}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}

	history, err := reg.Orders().ListHistory(ctx, 9)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected rollback, got %+v", history)
	}

	report, err := reg.Health().Collect(ctx)
	if err != nil || report.Status != domain.HealthStatusOK {
		t.Fatalf("expected healthy database, got %+v %v", report, err)
	}
}

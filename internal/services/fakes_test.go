package services

import (
	"context"
	"slices"
	"sync"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return e.msg }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(what string) error {
	return stubRepoError{msg: what + " not found", notFound: true}
}

type recordingUnitOfWork struct {
	mu    sync.Mutex
	calls int
}

func (u *recordingUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()
	return fn(ctx)
}

type captureEvents struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureEvents) Publish(_ context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

type memoryCoupons struct {
	mu      sync.Mutex
	coupons map[uint64]domain.Coupon
	swaps   int
}

func newMemoryCoupons(coupons ...domain.Coupon) *memoryCoupons {
	m := &memoryCoupons{coupons: map[uint64]domain.Coupon{}}
	for _, c := range coupons {
		m.coupons[c.ID] = c
	}
	return m
}

func (m *memoryCoupons) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.coupons {
		if c.Code == domain.NormalizeCouponCode(code) {
			return c, nil
		}
	}
	return domain.Coupon{}, notFoundErr("coupon")
}

func (m *memoryCoupons) FindByID(_ context.Context, couponID uint64) (domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[couponID]
	if !ok {
		return domain.Coupon{}, notFoundErr("coupon")
	}
	return c, nil
}

func (m *memoryCoupons) SwapUsage(_ context.Context, couponID uint64, expectedVersion int64, delta int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swaps++
	c, ok := m.coupons[couponID]
	if !ok {
		return false, notFoundErr("coupon")
	}
	next := c.UsedCount + delta
	if c.Version != expectedVersion || next < 0 || (c.UsageLimit != nil && next > *c.UsageLimit) {
		return false, nil
	}
	c.UsedCount = next
	c.Version++
	m.coupons[couponID] = c
	return true, nil
}

func (m *memoryCoupons) used(couponID uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[couponID].UsedCount
}

type memoryOrders struct {
	mu      sync.Mutex
	orders  map[uint64]domain.Order
	history []domain.OrderStatusHistory
	nextID  uint64
	updates int
}

func newMemoryOrders(orders ...domain.Order) *memoryOrders {
	m := &memoryOrders{orders: map[uint64]domain.Order{}, nextID: 100}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memoryOrders) Insert(_ context.Context, order domain.Order) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	order.ID = m.nextID
	order.Items = slices.Clone(order.Items)
	for i := range order.Items {
		order.Items[i].ID = uint64(i + 1)
		order.Items[i].OrderID = order.ID
	}
	m.orders[order.ID] = order
	return order, nil
}

func (m *memoryOrders) Update(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; !ok {
		return notFoundErr("order")
	}
	m.updates++
	m.orders[order.ID] = order
	return nil
}

func (m *memoryOrders) FindByID(_ context.Context, orderID uint64) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order")
	}
	o.Items = slices.Clone(o.Items)
	return o, nil
}

func (m *memoryOrders) AppendHistory(_ context.Context, entry domain.OrderStatusHistory) (domain.OrderStatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = uint64(len(m.history) + 1)
	m.history = append(m.history, entry)
	return entry, nil
}

func (m *memoryOrders) ListHistory(_ context.Context, orderID uint64) ([]domain.OrderStatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OrderStatusHistory
	for _, h := range m.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

type memoryProducts struct {
	mu       sync.Mutex
	products map[uint64]domain.Product
	variants map[uint64]domain.ProductVariant
}

func newMemoryProducts(products ...domain.Product) *memoryProducts {
	m := &memoryProducts{products: map[uint64]domain.Product{}, variants: map[uint64]domain.ProductVariant{}}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *memoryProducts) withVariant(v domain.ProductVariant) *memoryProducts {
	m.variants[v.ID] = v
	return m
}

func (m *memoryProducts) FindByID(_ context.Context, productID uint64) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return domain.Product{}, notFoundErr("product")
	}
	return p, nil
}

func (m *memoryProducts) FindVariant(_ context.Context, productID, variantID uint64) (domain.ProductVariant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variants[variantID]
	if !ok || v.ProductID != productID {
		return domain.ProductVariant{}, notFoundErr("variant")
	}
	return v, nil
}

func (m *memoryProducts) SetStock(_ context.Context, productID uint64, variantID *uint64, stock int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if variantID != nil {
		v, ok := m.variants[*variantID]
		if !ok {
			return notFoundErr("variant")
		}
		v.Stock = stock
		m.variants[*variantID] = v
		return nil
	}
	p, ok := m.products[productID]
	if !ok {
		return notFoundErr("product")
	}
	p.Stock = stock
	m.products[productID] = p
	return nil
}

func (m *memoryProducts) stock(productID uint64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[productID].Stock
}

type memoryInventoryLogs struct {
	mu      sync.Mutex
	entries []domain.InventoryLog
	filter  repositories.InventoryLogFilter
}

func (m *memoryInventoryLogs) Append(_ context.Context, entry domain.InventoryLog) (domain.InventoryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = uint64(len(m.entries) + 1)
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *memoryInventoryLogs) List(_ context.Context, filter repositories.InventoryLogFilter) (domain.CursorPage[domain.InventoryLog], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = filter
	var items []domain.InventoryLog
	for _, e := range m.entries {
		if e.ProductID == filter.ProductID {
			items = append(items, e)
		}
	}
	return domain.CursorPage[domain.InventoryLog]{Items: items}, nil
}

func (m *memoryInventoryLogs) ListAll(_ context.Context, productID uint64, variantID *uint64) ([]domain.InventoryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.InventoryLog
	for _, e := range m.entries {
		if e.ProductID != productID {
			continue
		}
		if (variantID == nil) != (e.VariantID == nil) {
			continue
		}
		if variantID != nil && *variantID != *e.VariantID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type memoryPayments struct {
	mu     sync.Mutex
	txns   map[string]domain.PaymentTransaction
	nextID uint64
	writes int
}

func newMemoryPayments(txns ...domain.PaymentTransaction) *memoryPayments {
	m := &memoryPayments{txns: map[string]domain.PaymentTransaction{}}
	for _, t := range txns {
		m.txns[t.TransactionRef] = t
		m.nextID = max(m.nextID, t.ID)
	}
	return m
}

func (m *memoryPayments) Insert(_ context.Context, txn domain.PaymentTransaction) (domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.txns[txn.TransactionRef]; exists {
		return domain.PaymentTransaction{}, stubRepoError{msg: "duplicate ref", conflict: true}
	}
	m.nextID++
	txn.ID = m.nextID
	m.txns[txn.TransactionRef] = txn
	m.writes++
	return txn, nil
}

func (m *memoryPayments) Update(_ context.Context, txn domain.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txns[txn.TransactionRef]; !ok {
		return notFoundErr("transaction")
	}
	m.txns[txn.TransactionRef] = txn
	m.writes++
	return nil
}

func (m *memoryPayments) FindByRef(_ context.Context, ref string) (domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[ref]
	if !ok {
		return domain.PaymentTransaction{}, notFoundErr("transaction")
	}
	return t, nil
}

func (m *memoryPayments) FindByExternalID(_ context.Context, gateway, externalID string) (domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txns {
		if t.Gateway == gateway && t.ExternalID != nil && *t.ExternalID == externalID {
			return t, nil
		}
	}
	return domain.PaymentTransaction{}, notFoundErr("transaction")
}

func (m *memoryPayments) ListByOrder(_ context.Context, orderID uint64) ([]domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PaymentTransaction
	for _, t := range m.txns {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b domain.PaymentTransaction) int { return int(a.ID) - int(b.ID) })
	return out, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func int64Ptr(v int64) *int64 { return &v }

func intPtr(v int) *int { return &v }

func stringPtr(v string) *string { return &v }

package domain

import (
	"errors"
	"strings"
	"time"
)

// InventoryAction classifies why stock changed.
type InventoryAction string

const (
	InventoryActionPurchase     InventoryAction = "purchase"
	InventoryActionSale         InventoryAction = "sale"
	InventoryActionReturn       InventoryAction = "return"
	InventoryActionAdjustment   InventoryAction = "adjustment"
	InventoryActionDamage       InventoryAction = "damage"
	InventoryActionTransfer     InventoryAction = "transfer"
	InventoryActionLost         InventoryAction = "lost"
	InventoryActionFound        InventoryAction = "found"
	InventoryActionExpired      InventoryAction = "expired"
	InventoryActionCancellation InventoryAction = "cancellation"
)

// ErrNegativeStock is returned when an adjustment would take stock below zero.
var ErrNegativeStock = errors.New("inventory: stock cannot go negative")

// ParseInventoryAction normalises raw input into a known action.
func ParseInventoryAction(raw string) (InventoryAction, bool) {
	action := InventoryAction(strings.ToLower(strings.TrimSpace(raw)))
	switch action {
	case InventoryActionPurchase, InventoryActionSale, InventoryActionReturn, InventoryActionAdjustment,
		InventoryActionDamage, InventoryActionTransfer, InventoryActionLost, InventoryActionFound,
		InventoryActionExpired, InventoryActionCancellation:
		return action, true
	}
	return "", false
}

// InventoryReference links a log entry to the business document that caused it.
type InventoryReference struct {
	Type string
	ID   string
}

// InventoryLog is an immutable stock delta with before/after snapshots.
type InventoryLog struct {
	ID            uint64
	ProductID     uint64
	VariantID     *uint64
	Action        InventoryAction
	Quantity      int64
	PreviousStock int64
	NewStock      int64
	UnitCost      *int64
	BatchNumber   *string
	ExpiryDate    *time.Time
	Reference     InventoryReference
	Reason        string
	ActorID       string
	CreatedAt     time.Time
}

// NextStock applies a signed delta to the current stock.
func NextStock(previous, quantity int64) (int64, error) {
	next := previous + quantity
	if next < 0 {
		return previous, ErrNegativeStock
	}
	return next, nil
}

// ReplayStock rebuilds the live stock counter from log entries in creation order.
func ReplayStock(logs []InventoryLog) int64 {
	var stock int64
	for _, entry := range logs {
		stock += entry.Quantity
	}
	return stock
}

// Product is the catalog row carrying the live stock counter.
type Product struct {
	ID        uint64
	SKU       string
	Name      string
	ImageURL  string
	Price     int64
	Stock     int64
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductVariant is a sellable variation with its own price and stock.
type ProductVariant struct {
	ID        uint64
	ProductID uint64
	SKU       string
	Name      string
	Price     int64
	Stock     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot copies catalog fields for an order line. A variant overrides the SKU and price.
func (p Product) Snapshot(variant *ProductVariant) (ProductSnapshot, int64) {
	snap := ProductSnapshot{
		ProductName: p.Name,
		SKU:         p.SKU,
		ImageURL:    p.ImageURL,
	}
	price := p.Price
	if variant != nil {
		snap.VariantName = variant.Name
		if variant.SKU != "" {
			snap.SKU = variant.SKU
		}
		if variant.Price > 0 {
			price = variant.Price
		}
	}
	return snap, price
}

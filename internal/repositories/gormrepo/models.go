package gormrepo

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// Models lists every record type managed by this package, in dependency order, for AutoMigrate.
func Models() []any {
	return []any{
		&productRecord{},
		&productVariantRecord{},
		&couponRecord{},
		&orderRecord{},
		&orderItemRecord{},
		&orderStatusHistoryRecord{},
		&paymentTransactionRecord{},
		&inventoryLogRecord{},
	}
}

type orderRecord struct {
	ID                 uint64  `gorm:"primaryKey;autoIncrement"`
	OrderNumber        string  `gorm:"size:32;uniqueIndex;not null"`
	UserID             string  `gorm:"size:128;index;not null"`
	Currency           string  `gorm:"size:3;not null"`
	SubTotal           int64   `gorm:"not null"`
	ShippingFee        int64   `gorm:"not null"`
	TaxAmount          int64   `gorm:"not null"`
	DiscountAmount     int64   `gorm:"not null"`
	GiftWrapFee        int64   `gorm:"not null"`
	CouponDiscount     int64   `gorm:"not null"`
	TotalAmount        int64   `gorm:"not null"`
	CouponID           *uint64 `gorm:"index"`
	CouponCode         *string `gorm:"size:64"`
	Status             string  `gorm:"size:32;index;not null"`
	PaymentStatus      string  `gorm:"size:32;not null"`
	ReceiverName       string  `gorm:"size:255"`
	ReceiverPhone      string  `gorm:"size:32"`
	ReceiverEmail      string  `gorm:"size:255"`
	ReceiverAddress    string  `gorm:"size:512"`
	ReceiverWard       string  `gorm:"size:128"`
	ReceiverDistrict   string  `gorm:"size:128"`
	ReceiverProvince   string  `gorm:"size:128"`
	DeliveryMethod     string  `gorm:"size:64"`
	Carrier            string  `gorm:"size:64"`
	TrackingNumber     string  `gorm:"size:128"`
	ConfirmedDate      *time.Time
	ProcessingDate     *time.Time
	ShippedDate        *time.Time
	OutForDeliveryDate *time.Time
	DeliveredDate      *time.Time
	CancelledDate      *time.Time
	ReturnedDate       *time.Time
	RefundedDate       *time.Time
	PaidDate           *time.Time
	Notes              string            `gorm:"type:text"`
	IsGift             bool              `gorm:"not null;default:false"`
	IsUrgent           bool              `gorm:"not null;default:false"`
	IsInsured          bool              `gorm:"not null;default:false"`
	Items              []orderItemRecord `gorm:"foreignKey:OrderID"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (orderRecord) TableName() string { return "orders" }

type snapshotPayload struct {
	ProductName string `json:"product_name"`
	SKU         string `json:"sku"`
	ImageURL    string `json:"image_url,omitempty"`
	VariantName string `json:"variant_name,omitempty"`
}

type orderItemRecord struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement"`
	OrderID    uint64  `gorm:"index;not null"`
	ProductID  uint64  `gorm:"index;not null"`
	VariantID  *uint64 `gorm:"index"`
	Quantity   int     `gorm:"not null"`
	UnitPrice  int64   `gorm:"not null"`
	TotalPrice int64   `gorm:"not null"`
	Snapshot   datatypes.JSONType[snapshotPayload]
	CreatedAt  time.Time
}

func (orderItemRecord) TableName() string { return "order_items" }

type orderStatusHistoryRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID    uint64 `gorm:"index;not null"`
	FromStatus string `gorm:"size:32"`
	ToStatus   string `gorm:"size:32;not null"`
	Note       string `gorm:"type:text"`
	ActorID    string `gorm:"size:128"`
	CreatedAt  time.Time
}

func (orderStatusHistoryRecord) TableName() string { return "order_status_histories" }

type couponRecord struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement"`
	Code           string          `gorm:"size:64;uniqueIndex;not null"`
	Name           string          `gorm:"size:255"`
	DiscountType   string          `gorm:"size:32;not null"`
	Value          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	MinOrderAmount *int64
	MaxDiscount    *int64
	UsageLimit     *int
	UsedCount      int `gorm:"not null;default:0"`
	StartsAt       time.Time
	EndsAt         *time.Time
	IsActive       bool  `gorm:"not null;default:true"`
	Version        int64 `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (couponRecord) TableName() string { return "coupons" }

type paymentTransactionRecord struct {
	ID             uint64  `gorm:"primaryKey;autoIncrement"`
	TransactionRef string  `gorm:"size:26;uniqueIndex;not null"`
	OrderID        uint64  `gorm:"index;not null"`
	Gateway        string  `gorm:"size:32;not null;uniqueIndex:idx_payment_gateway_external"`
	Method         string  `gorm:"size:32;not null"`
	ExternalID     *string `gorm:"size:128;uniqueIndex:idx_payment_gateway_external"`
	Amount         int64   `gorm:"not null"`
	Fee            int64   `gorm:"not null;default:0"`
	RefundedAmount int64   `gorm:"not null;default:0"`
	Currency       string  `gorm:"size:3;not null"`
	Status         string  `gorm:"size:32;index;not null"`
	GatewayPayload datatypes.JSONMap
	FailureReason  string `gorm:"size:512"`
	ProcessedAt    *time.Time
	CompletedAt    *time.Time
	RefundedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (paymentTransactionRecord) TableName() string { return "payment_transactions" }

type productRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	SKU       string `gorm:"size:64;uniqueIndex;not null"`
	Name      string `gorm:"size:255;not null"`
	ImageURL  string `gorm:"size:512"`
	Price     int64  `gorm:"not null"`
	Stock     int64  `gorm:"not null;default:0"`
	IsActive  bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (productRecord) TableName() string { return "products" }

type productVariantRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	ProductID uint64 `gorm:"index;not null"`
	SKU       string `gorm:"size:64"`
	Name      string `gorm:"size:255"`
	Price     int64
	Stock     int64 `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (productVariantRecord) TableName() string { return "product_variants" }

type inventoryLogRecord struct {
	ID            uint64  `gorm:"primaryKey;autoIncrement"`
	ProductID     uint64  `gorm:"index:idx_inventory_product;not null"`
	VariantID     *uint64 `gorm:"index:idx_inventory_product"`
	Action        string  `gorm:"size:32;not null"`
	Quantity      int64   `gorm:"not null"`
	PreviousStock int64   `gorm:"not null"`
	NewStock      int64   `gorm:"not null"`
	UnitCost      *int64
	BatchNumber   *string `gorm:"size:64"`
	ExpiryDate    *time.Time
	ReferenceType string `gorm:"size:32"`
	ReferenceID   string `gorm:"size:64"`
	Reason        string `gorm:"size:512"`
	ActorID       string `gorm:"size:128"`
	CreatedAt     time.Time
}

func (inventoryLogRecord) TableName() string { return "inventory_logs" }

func newOrderRecord(order domain.Order) orderRecord {
	rec := orderRecord{
		ID:                 order.ID,
		OrderNumber:        order.OrderNumber,
		UserID:             order.UserID,
		Currency:           order.Currency,
		SubTotal:           order.SubTotal,
		ShippingFee:        order.ShippingFee,
		TaxAmount:          order.TaxAmount,
		DiscountAmount:     order.DiscountAmount,
		GiftWrapFee:        order.GiftWrapFee,
		CouponDiscount:     order.CouponDiscount,
		TotalAmount:        order.TotalAmount,
		CouponID:           order.CouponID,
		CouponCode:         order.CouponCode,
		Status:             string(order.Status),
		PaymentStatus:      string(order.PaymentStatus),
		ReceiverName:       order.Receiver.Name,
		ReceiverPhone:      order.Receiver.Phone,
		ReceiverEmail:      order.Receiver.Email,
		ReceiverAddress:    order.Receiver.AddressLine,
		ReceiverWard:       order.Receiver.Ward,
		ReceiverDistrict:   order.Receiver.District,
		ReceiverProvince:   order.Receiver.Province,
		DeliveryMethod:     order.Shipment.DeliveryMethod,
		Carrier:            order.Shipment.Carrier,
		TrackingNumber:     order.Shipment.TrackingNumber,
		ConfirmedDate:      order.Dates.ConfirmedAt,
		ProcessingDate:     order.Dates.ProcessingAt,
		ShippedDate:        order.Dates.ShippedAt,
		OutForDeliveryDate: order.Dates.OutForDeliveryAt,
		DeliveredDate:      order.Dates.DeliveredAt,
		CancelledDate:      order.Dates.CancelledAt,
		ReturnedDate:       order.Dates.ReturnedAt,
		RefundedDate:       order.Dates.RefundedAt,
		PaidDate:           order.Dates.PaidAt,
		Notes:              order.Notes,
		IsGift:             order.Flags.Gift,
		IsUrgent:           order.Flags.Urgent,
		IsInsured:          order.Flags.Insured,
		CreatedAt:          order.CreatedAt,
		UpdatedAt:          order.UpdatedAt,
	}
	for _, item := range order.Items {
		rec.Items = append(rec.Items, newOrderItemRecord(item))
	}
	return rec
}

func (r orderRecord) toDomain() domain.Order {
	order := domain.Order{
		ID:             r.ID,
		OrderNumber:    r.OrderNumber,
		UserID:         r.UserID,
		Currency:       r.Currency,
		SubTotal:       r.SubTotal,
		ShippingFee:    r.ShippingFee,
		TaxAmount:      r.TaxAmount,
		DiscountAmount: r.DiscountAmount,
		GiftWrapFee:    r.GiftWrapFee,
		CouponDiscount: r.CouponDiscount,
		TotalAmount:    r.TotalAmount,
		CouponID:       r.CouponID,
		CouponCode:     r.CouponCode,
		Status:         domain.OrderStatus(r.Status),
		PaymentStatus:  domain.PaymentStatus(r.PaymentStatus),
		Receiver: domain.Receiver{
			Name:        r.ReceiverName,
			Phone:       r.ReceiverPhone,
			Email:       r.ReceiverEmail,
			AddressLine: r.ReceiverAddress,
			Ward:        r.ReceiverWard,
			District:    r.ReceiverDistrict,
			Province:    r.ReceiverProvince,
		},
		Shipment: domain.Shipment{
			DeliveryMethod: r.DeliveryMethod,
			Carrier:        r.Carrier,
			TrackingNumber: r.TrackingNumber,
		},
		Dates: domain.OrderDates{
			ConfirmedAt:      utcPtr(r.ConfirmedDate),
			ProcessingAt:     utcPtr(r.ProcessingDate),
			ShippedAt:        utcPtr(r.ShippedDate),
			OutForDeliveryAt: utcPtr(r.OutForDeliveryDate),
			DeliveredAt:      utcPtr(r.DeliveredDate),
			CancelledAt:      utcPtr(r.CancelledDate),
			ReturnedAt:       utcPtr(r.ReturnedDate),
			RefundedAt:       utcPtr(r.RefundedDate),
			PaidAt:           utcPtr(r.PaidDate),
		},
		Notes: r.Notes,
		Flags: domain.OrderFlags{
			Gift:    r.IsGift,
			Urgent:  r.IsUrgent,
			Insured: r.IsInsured,
		},
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if len(r.Items) > 0 {
		order.Items = make([]domain.OrderItem, 0, len(r.Items))
		for _, item := range r.Items {
			order.Items = append(order.Items, item.toDomain())
		}
	}
	return order
}

func newOrderItemRecord(item domain.OrderItem) orderItemRecord {
	return orderItemRecord{
		ID:         item.ID,
		OrderID:    item.OrderID,
		ProductID:  item.ProductID,
		VariantID:  item.VariantID,
		Quantity:   item.Quantity,
		UnitPrice:  item.UnitPrice,
		TotalPrice: item.TotalPrice,
		Snapshot: datatypes.NewJSONType(snapshotPayload{
			ProductName: item.Snapshot.ProductName,
			SKU:         item.Snapshot.SKU,
			ImageURL:    item.Snapshot.ImageURL,
			VariantName: item.Snapshot.VariantName,
		}),
		CreatedAt: item.CreatedAt,
	}
}

func (r orderItemRecord) toDomain() domain.OrderItem {
	snap := r.Snapshot.Data()
	return domain.OrderItem{
		ID:         r.ID,
		OrderID:    r.OrderID,
		ProductID:  r.ProductID,
		VariantID:  r.VariantID,
		Quantity:   r.Quantity,
		UnitPrice:  r.UnitPrice,
		TotalPrice: r.TotalPrice,
		Snapshot: domain.ProductSnapshot{
			ProductName: snap.ProductName,
			SKU:         snap.SKU,
			ImageURL:    snap.ImageURL,
			VariantName: snap.VariantName,
		},
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func newHistoryRecord(entry domain.OrderStatusHistory) orderStatusHistoryRecord {
	return orderStatusHistoryRecord{
		ID:         entry.ID,
		OrderID:    entry.OrderID,
		FromStatus: string(entry.FromStatus),
		ToStatus:   string(entry.ToStatus),
		Note:       entry.Note,
		ActorID:    entry.ActorID,
		CreatedAt:  entry.CreatedAt,
	}
}

func (r orderStatusHistoryRecord) toDomain() domain.OrderStatusHistory {
	return domain.OrderStatusHistory{
		ID:         r.ID,
		OrderID:    r.OrderID,
		FromStatus: domain.OrderStatus(r.FromStatus),
		ToStatus:   domain.OrderStatus(r.ToStatus),
		Note:       r.Note,
		ActorID:    r.ActorID,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func newCouponRecord(c domain.Coupon) couponRecord {
	return couponRecord{
		ID:             c.ID,
		Code:           c.Code,
		Name:           c.Name,
		DiscountType:   string(c.DiscountType),
		Value:          c.Value,
		MinOrderAmount: c.MinOrderAmount,
		MaxDiscount:    c.MaxDiscount,
		UsageLimit:     c.UsageLimit,
		UsedCount:      c.UsedCount,
		StartsAt:       c.StartsAt,
		EndsAt:         c.EndsAt,
		IsActive:       c.Active,
		Version:        c.Version,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func (r couponRecord) toDomain() domain.Coupon {
	return domain.Coupon{
		ID:             r.ID,
		Code:           r.Code,
		Name:           r.Name,
		DiscountType:   domain.DiscountType(r.DiscountType),
		Value:          r.Value,
		MinOrderAmount: r.MinOrderAmount,
		MaxDiscount:    r.MaxDiscount,
		UsageLimit:     r.UsageLimit,
		UsedCount:      r.UsedCount,
		StartsAt:       r.StartsAt.UTC(),
		EndsAt:         utcPtr(r.EndsAt),
		Active:         r.IsActive,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func newPaymentRecord(t domain.PaymentTransaction) paymentTransactionRecord {
	return paymentTransactionRecord{
		ID:             t.ID,
		TransactionRef: t.TransactionRef,
		OrderID:        t.OrderID,
		Gateway:        t.Gateway,
		Method:         string(t.Method),
		ExternalID:     t.ExternalID,
		Amount:         t.Amount,
		Fee:            t.Fee,
		RefundedAmount: t.RefundedAmount,
		Currency:       t.Currency,
		Status:         string(t.Status),
		GatewayPayload: datatypes.JSONMap(t.GatewayPayload),
		FailureReason:  t.FailureReason,
		ProcessedAt:    t.ProcessedAt,
		CompletedAt:    t.CompletedAt,
		RefundedAt:     t.RefundedAt,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func (r paymentTransactionRecord) toDomain() domain.PaymentTransaction {
	return domain.PaymentTransaction{
		ID:             r.ID,
		TransactionRef: r.TransactionRef,
		OrderID:        r.OrderID,
		Gateway:        r.Gateway,
		Method:         domain.PaymentMethod(r.Method),
		ExternalID:     r.ExternalID,
		Amount:         r.Amount,
		Fee:            r.Fee,
		RefundedAmount: r.RefundedAmount,
		Currency:       r.Currency,
		Status:         domain.TransactionStatus(r.Status),
		GatewayPayload: map[string]any(r.GatewayPayload),
		FailureReason:  r.FailureReason,
		ProcessedAt:    utcPtr(r.ProcessedAt),
		CompletedAt:    utcPtr(r.CompletedAt),
		RefundedAt:     utcPtr(r.RefundedAt),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func (r productRecord) toDomain() domain.Product {
	return domain.Product{
		ID:        r.ID,
		SKU:       r.SKU,
		Name:      r.Name,
		ImageURL:  r.ImageURL,
		Price:     r.Price,
		Stock:     r.Stock,
		Active:    r.IsActive,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (r productVariantRecord) toDomain() domain.ProductVariant {
	return domain.ProductVariant{
		ID:        r.ID,
		ProductID: r.ProductID,
		SKU:       r.SKU,
		Name:      r.Name,
		Price:     r.Price,
		Stock:     r.Stock,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func newInventoryLogRecord(entry domain.InventoryLog) inventoryLogRecord {
	return inventoryLogRecord{
		ID:            entry.ID,
		ProductID:     entry.ProductID,
		VariantID:     entry.VariantID,
		Action:        string(entry.Action),
		Quantity:      entry.Quantity,
		PreviousStock: entry.PreviousStock,
		NewStock:      entry.NewStock,
		UnitCost:      entry.UnitCost,
		BatchNumber:   entry.BatchNumber,
		ExpiryDate:    entry.ExpiryDate,
		ReferenceType: entry.Reference.Type,
		ReferenceID:   entry.Reference.ID,
		Reason:        entry.Reason,
		ActorID:       entry.ActorID,
		CreatedAt:     entry.CreatedAt,
	}
}

func (r inventoryLogRecord) toDomain() domain.InventoryLog {
	return domain.InventoryLog{
		ID:            r.ID,
		ProductID:     r.ProductID,
		VariantID:     r.VariantID,
		Action:        domain.InventoryAction(r.Action),
		Quantity:      r.Quantity,
		PreviousStock: r.PreviousStock,
		NewStock:      r.NewStock,
		UnitCost:      r.UnitCost,
		BatchNumber:   r.BatchNumber,
		ExpiryDate:    utcPtr(r.ExpiryDate),
		Reference:     domain.InventoryReference{Type: r.ReferenceType, ID: r.ReferenceID},
		Reason:        r.Reason,
		ActorID:       r.ActorID,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

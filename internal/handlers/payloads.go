package handlers

import (
	"strconv"
	"time"

	"github.com/hanko-field/orderflow/internal/services"
)

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID            string              `json:"id"`
	OrderNumber   string              `json:"order_number"`
	UserID        string              `json:"user_id,omitempty"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"payment_status"`
	Currency      string              `json:"currency"`
	Totals        orderTotalsPayload  `json:"totals"`
	Coupon        *orderCouponPayload `json:"coupon,omitempty"`
	Items         []orderItemPayload  `json:"items"`
	Receiver      receiverPayload     `json:"receiver"`
	Shipment      shipmentPayload     `json:"shipment"`
	Flags         orderFlagsPayload   `json:"flags"`
	Notes         string              `json:"notes,omitempty"`
	Dates         map[string]string   `json:"dates,omitempty"`
	CreatedAt     string              `json:"created_at"`
	UpdatedAt     string              `json:"updated_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal       int64 `json:"subtotal"`
	Shipping       int64 `json:"shipping"`
	Tax            int64 `json:"tax"`
	GiftWrap       int64 `json:"gift_wrap"`
	Discount       int64 `json:"discount"`
	CouponDiscount int64 `json:"coupon_discount"`
	Total          int64 `json:"total"`
}

type orderCouponPayload struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Discount int64  `json:"discount"`
}

type orderItemPayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id,omitempty"`
	ProductName string `json:"product_name"`
	SKU         string `json:"sku,omitempty"`
	VariantName string `json:"variant_name,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	TotalPrice  int64  `json:"total_price"`
}

type receiverPayload struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
	AddressLine string `json:"address_line"`
	Ward        string `json:"ward,omitempty"`
	District    string `json:"district,omitempty"`
	Province    string `json:"province"`
}

type shipmentPayload struct {
	DeliveryMethod string `json:"delivery_method,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type orderFlagsPayload struct {
	Gift    bool `json:"gift"`
	Urgent  bool `json:"urgent"`
	Insured bool `json:"insured"`
}

type statusHistoryPayload struct {
	ID         string `json:"id"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
	Note       string `json:"note,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type transactionPayload struct {
	ID             string         `json:"id"`
	TransactionRef string         `json:"transaction_ref"`
	OrderID        string         `json:"order_id"`
	Gateway        string         `json:"gateway"`
	Method         string         `json:"method"`
	ExternalID     string         `json:"external_id,omitempty"`
	Amount         int64          `json:"amount"`
	Fee            int64          `json:"fee"`
	RefundedAmount int64          `json:"refunded_amount"`
	Currency       string         `json:"currency"`
	Status         string         `json:"status"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	GatewayPayload map[string]any `json:"gateway_payload,omitempty"`
	ProcessedAt    string         `json:"processed_at,omitempty"`
	CompletedAt    string         `json:"completed_at,omitempty"`
	RefundedAt     string         `json:"refunded_at,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

type inventoryLogPayload struct {
	ID            string `json:"id"`
	ProductID     string `json:"product_id"`
	VariantID     string `json:"variant_id,omitempty"`
	Action        string `json:"action"`
	Quantity      int64  `json:"quantity"`
	PreviousStock int64  `json:"previous_stock"`
	NewStock      int64  `json:"new_stock"`
	UnitCost      *int64 `json:"unit_cost,omitempty"`
	BatchNumber   string `json:"batch_number,omitempty"`
	ExpiryDate    string `json:"expiry_date,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            formatID(order.ID),
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      order.Currency,
		Totals: orderTotalsPayload{
			Subtotal:       order.SubTotal,
			Shipping:       order.ShippingFee,
			Tax:            order.TaxAmount,
			GiftWrap:       order.GiftWrapFee,
			Discount:       order.DiscountAmount,
			CouponDiscount: order.CouponDiscount,
			Total:          order.TotalAmount,
		},
		Items: make([]orderItemPayload, 0, len(order.Items)),
		Receiver: receiverPayload{
			Name:        order.Receiver.Name,
			Phone:       order.Receiver.Phone,
			Email:       order.Receiver.Email,
			AddressLine: order.Receiver.AddressLine,
			Ward:        order.Receiver.Ward,
			District:    order.Receiver.District,
			Province:    order.Receiver.Province,
		},
		Shipment: shipmentPayload{
			DeliveryMethod: order.Shipment.DeliveryMethod,
			Carrier:        order.Shipment.Carrier,
			TrackingNumber: order.Shipment.TrackingNumber,
		},
		Flags: orderFlagsPayload{
			Gift:    order.Flags.Gift,
			Urgent:  order.Flags.Urgent,
			Insured: order.Flags.Insured,
		},
		Notes:     order.Notes,
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}

	if order.CouponID != nil {
		coupon := &orderCouponPayload{ID: formatID(*order.CouponID), Discount: order.CouponDiscount}
		if order.CouponCode != nil {
			coupon.Code = *order.CouponCode
		}
		payload.Coupon = coupon
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:          formatID(item.ID),
			ProductID:   formatID(item.ProductID),
			VariantID:   formatOptionalID(item.VariantID),
			ProductName: item.Snapshot.ProductName,
			SKU:         item.Snapshot.SKU,
			VariantName: item.Snapshot.VariantName,
			ImageURL:    item.Snapshot.ImageURL,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		})
	}

	dates := map[string]*time.Time{
		"confirmed_at":        order.Dates.ConfirmedAt,
		"processing_at":       order.Dates.ProcessingAt,
		"shipped_at":          order.Dates.ShippedAt,
		"out_for_delivery_at": order.Dates.OutForDeliveryAt,
		"delivered_at":        order.Dates.DeliveredAt,
		"cancelled_at":        order.Dates.CancelledAt,
		"returned_at":         order.Dates.ReturnedAt,
		"refunded_at":         order.Dates.RefundedAt,
		"paid_at":             order.Dates.PaidAt,
	}
	for name, ts := range dates {
		if value := formatTimePtr(ts); value != "" {
			if payload.Dates == nil {
				payload.Dates = make(map[string]string)
			}
			payload.Dates[name] = value
		}
	}
	return payload
}

func buildStatusHistoryPayloads(entries []services.OrderStatusHistory) []statusHistoryPayload {
	result := make([]statusHistoryPayload, 0, len(entries))
	for _, entry := range entries {
		result = append(result, statusHistoryPayload{
			ID:         formatID(entry.ID),
			FromStatus: string(entry.FromStatus),
			ToStatus:   string(entry.ToStatus),
			Note:       entry.Note,
			ActorID:    entry.ActorID,
			CreatedAt:  formatTime(entry.CreatedAt),
		})
	}
	return result
}

func buildTransactionPayload(txn services.PaymentTransaction) transactionPayload {
	payload := transactionPayload{
		ID:             formatID(txn.ID),
		TransactionRef: txn.TransactionRef,
		OrderID:        formatID(txn.OrderID),
		Gateway:        txn.Gateway,
		Method:         string(txn.Method),
		Amount:         txn.Amount,
		Fee:            txn.Fee,
		RefundedAmount: txn.RefundedAmount,
		Currency:       txn.Currency,
		Status:         string(txn.Status),
		FailureReason:  txn.FailureReason,
		GatewayPayload: txn.GatewayPayload,
		ProcessedAt:    formatTimePtr(txn.ProcessedAt),
		CompletedAt:    formatTimePtr(txn.CompletedAt),
		RefundedAt:     formatTimePtr(txn.RefundedAt),
		CreatedAt:      formatTime(txn.CreatedAt),
	}
	if txn.ExternalID != nil {
		payload.ExternalID = *txn.ExternalID
	}
	return payload
}

func buildInventoryLogPayload(entry services.InventoryLog) inventoryLogPayload {
	payload := inventoryLogPayload{
		ID:            formatID(entry.ID),
		ProductID:     formatID(entry.ProductID),
		VariantID:     formatOptionalID(entry.VariantID),
		Action:        string(entry.Action),
		Quantity:      entry.Quantity,
		PreviousStock: entry.PreviousStock,
		NewStock:      entry.NewStock,
		UnitCost:      entry.UnitCost,
		ExpiryDate:    formatTimePtr(entry.ExpiryDate),
		ReferenceType: entry.Reference.Type,
		ReferenceID:   entry.Reference.ID,
		Reason:        entry.Reason,
		ActorID:       entry.ActorID,
		CreatedAt:     formatTime(entry.CreatedAt),
	}
	if entry.BatchNumber != nil {
		payload.BatchNumber = *entry.BatchNumber
	}
	return payload
}

func formatID(id uint64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}

func formatOptionalID(id *uint64) string {
	if id == nil {
		return ""
	}
	return formatID(*id)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/services"
)

type orderLineRequest struct {
	ProductID uint64  `json:"product_id"`
	VariantID *uint64 `json:"variant_id"`
	Quantity  int     `json:"quantity"`
}

type receiverRequest struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	AddressLine string `json:"address_line"`
	Ward        string `json:"ward"`
	District    string `json:"district"`
	Province    string `json:"province"`
}

type createOrderRequest struct {
	UserID         string             `json:"user_id"`
	Currency       string             `json:"currency"`
	Items          []orderLineRequest `json:"items"`
	ShippingFee    int64              `json:"shipping_fee"`
	TaxAmount      int64              `json:"tax_amount"`
	GiftWrapFee    int64              `json:"gift_wrap_fee"`
	DiscountAmount int64              `json:"discount_amount"`
	Receiver       receiverRequest    `json:"receiver"`
	DeliveryMethod string             `json:"delivery_method"`
	Notes          string             `json:"notes"`
	Flags          orderFlagsPayload  `json:"flags"`
	CouponCode     *string            `json:"coupon_code"`
}

type createOrderResponse struct {
	Order           orderPayload `json:"order"`
	CouponRejection string       `json:"coupon_rejection,omitempty"`
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

type applyCouponResponse struct {
	Success        bool         `json:"success"`
	DiscountAmount *int64       `json:"discount_amount,omitempty"`
	FailureReason  string       `json:"failure_reason,omitempty"`
	Order          orderPayload `json:"order"`
}

type updateFeesRequest struct {
	ShippingFee    *int64 `json:"shipping_fee"`
	TaxAmount      *int64 `json:"tax_amount"`
	GiftWrapFee    *int64 `json:"gift_wrap_fee"`
	DiscountAmount *int64 `json:"discount_amount"`
}

type transitionRequest struct {
	Status         string `json:"status"`
	Note           string `json:"note"`
	ExpectedStatus string `json:"expected_status"`
}

type transitionResponse struct {
	Success       bool         `json:"success"`
	FailureReason string       `json:"failure_reason,omitempty"`
	Order         orderPayload `json:"order"`
}

type statusHistoryResponse struct {
	Items []statusHistoryPayload `json:"items"`
}

type recordPaymentRequest struct {
	Gateway  string `json:"gateway"`
	Method   string `json:"method"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type transactionResponse struct {
	Transaction transactionPayload `json:"transaction"`
}

type transactionListResponse struct {
	Items []transactionPayload `json:"items"`
}

// OrderHandlers exposes the order aggregate and its payment attempts.
type OrderHandlers struct {
	orders   services.OrderService
	payments services.PaymentService
}

// NewOrderHandlers constructs a new OrderHandlers instance. payments may be nil.
func NewOrderHandlers(orders services.OrderService, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		orders:   orders,
		payments: payments,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/history", h.listHistory)
	r.Post("/{orderID}/coupon", h.applyCoupon)
	r.Delete("/{orderID}/coupon", h.removeCoupon)
	r.Post("/{orderID}/fees", h.updateFees)
	r.Post("/{orderID}/status", h.transitionStatus)
	r.Post("/{orderID}/payments", h.recordPayment)
	r.Get("/{orderID}/payments", h.listPayments)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		unavailable(ctx, w, "order")
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	lines := make([]services.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, services.OrderLine{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}

	result, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:         req.UserID,
		Currency:       req.Currency,
		Lines:          lines,
		ShippingFee:    req.ShippingFee,
		TaxAmount:      req.TaxAmount,
		GiftWrapFee:    req.GiftWrapFee,
		DiscountAmount: req.DiscountAmount,
		Receiver: services.Receiver{
			Name:        req.Receiver.Name,
			Phone:       req.Receiver.Phone,
			Email:       req.Receiver.Email,
			AddressLine: req.Receiver.AddressLine,
			Ward:        req.Receiver.Ward,
			District:    req.Receiver.District,
			Province:    req.Receiver.Province,
		},
		DeliveryMethod: req.DeliveryMethod,
		Notes:          req.Notes,
		Flags: services.OrderFlags{
			Gift:    req.Flags.Gift,
			Urgent:  req.Flags.Urgent,
			Insured: req.Flags.Insured,
		},
		CouponCode: req.CouponCode,
		ActorID:    actorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+strconv.FormatUint(result.Order.ID, 10))
	writeJSON(w, http.StatusCreated, createOrderResponse{
		Order:           buildOrderPayload(result.Order),
		CouponRejection: string(result.CouponRejection),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		unavailable(ctx, w, "order")
		return
	}
	orderID, ok := uintParam(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		unavailable(ctx, w, "order")
		return
	}
	orderID, ok := uintParam(w, r, "orderID")
	if !ok {
		return
	}

	entries, err := h.orders.ListStatusHistory(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusHistoryResponse{Items: buildStatusHistoryPayloads(entries)})
}

func (h *OrderHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		unavailable(ctx, w, "order")
		return
	}
	orderID, ok := uintParam(w, r, "orderID")
	if !ok {
		return
	}
	var req applyCouponRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest("code is required"))
		return
	}

	result, err := h.orders.ApplyCouponToOrder(ctx, orderID, req.Code)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	// Rejections are business outcomes and reported in the body.
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, applyCouponResponse{
		Success:        result.Success,
		DiscountAmount: result.DiscountAmount,
		FailureReason:  string(result.FailureReason),
		Order:          buildOrderPayload(result.Order),
	})
}

func (h *OrderHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		unavailable(ctx, w, "order")
		return
	}
	orderID, ok := uintParam(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.orders.RemoveCoupon(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateFees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		unavailable(ctx, w, "order")
		return
	}
	orderID, ok := uintParam(w, r, "orderID")
	if !ok {
		return
	}
	var req updateFeesRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	order, err := h.orders.UpdateFees(ctx, services.UpdateFeesCommand{
		OrderID:        orderID,
		ShippingFee:    req.ShippingFee,
		TaxAmount:      req.TaxAmount,
		GiftWrapFee:    req.GiftWrapFee,
		DiscountAmount: req.DiscountAmount,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		unavailable(ctx, w, "order")
		return
	}
	orderID, ok := uintParam(w, r, "orderID")
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	target, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.BadRequest("status is not a known order status"))
		return
	}
	cmd := services.TransitionOrderCommand{
		OrderID:      orderID,
		TargetStatus: target,
		Note:         req.Note,
		ActorID:      actorID(r),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := domain.ParseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.BadRequest("expected_status is not a known order status"))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	result, err := h.orders.TransitionOrderStatus(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, transitionResponse{
		Success:       result.Success,
		FailureReason: result.FailureReason,
		Order:         buildOrderPayload(result.Order),
	})
}

func (h *OrderHandlers) recordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		unavailable(ctx, w, "payment")
		return
	}
	orderID, ok := uintParam(w, r, "orderID")
	if !ok {
		return
	}
	var req recordPaymentRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	method, ok := domain.ParsePaymentMethod(req.Method)
	if !ok {
		httpx.WriteError(ctx, w, httpx.BadRequest("method is not a supported payment method"))
		return
	}

	txn, err := h.payments.RecordPaymentAttempt(ctx, services.RecordPaymentCommand{
		OrderID:  orderID,
		Gateway:  req.Gateway,
		Method:   method,
		Amount:   req.Amount,
		Currency: req.Currency,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transactionResponse{Transaction: buildTransactionPayload(txn)})
}

func (h *OrderHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		unavailable(ctx, w, "payment")
		return
	}
	orderID, ok := uintParam(w, r, "orderID")
	if !ok {
		return
	}

	txns, err := h.payments.ListTransactions(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]transactionPayload, 0, len(txns))
	for _, txn := range txns {
		items = append(items, buildTransactionPayload(txn))
	}
	writeJSON(w, http.StatusOK, transactionListResponse{Items: items})
}

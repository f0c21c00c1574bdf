package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/services"
)

type validateCouponRequest struct {
	Code        string `json:"code"`
	OrderAmount int64  `json:"order_amount"`
}

type couponValidationResponse struct {
	Valid    bool   `json:"valid"`
	Reason   string `json:"reason,omitempty"`
	Discount *int64 `json:"discount,omitempty"`
	CouponID string `json:"coupon_id,omitempty"`
	Code     string `json:"code,omitempty"`
	Name     string `json:"name,omitempty"`
}

// CouponHandlers exposes coupon validation.
type CouponHandlers struct {
	coupons services.CouponService
}

// NewCouponHandlers constructs coupon handlers.
func NewCouponHandlers(coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{coupons: coupons}
}

// Routes registers the coupon endpoints on the API root.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/coupons:validate", h.validateCoupon)
}

func (h *CouponHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		unavailable(ctx, w, "coupon")
		return
	}

	var req validateCouponRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest("code is required"))
		return
	}

	result, err := h.coupons.ValidateCouponForOrder(ctx, req.Code, req.OrderAmount)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := couponValidationResponse{
		Valid:    result.Valid,
		Reason:   string(result.Reason),
		Discount: result.Discount,
	}
	if result.Coupon != nil {
		resp.CouponID = formatID(result.Coupon.ID)
		resp.Code = result.Coupon.Code
		resp.Name = result.Coupon.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

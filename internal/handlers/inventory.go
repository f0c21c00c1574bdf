package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/services"
)

type inventoryAdjustmentRequest struct {
	ProductID     uint64  `json:"product_id"`
	VariantID     *uint64 `json:"variant_id"`
	Action        string  `json:"action"`
	Quantity      int64   `json:"quantity"`
	Reason        string  `json:"reason"`
	ReferenceType string  `json:"reference_type"`
	ReferenceID   string  `json:"reference_id"`
	UnitCost      *int64  `json:"unit_cost"`
	BatchNumber   *string `json:"batch_number"`
	ExpiryDate    string  `json:"expiry_date"`
}

type inventoryAdjustmentResponse struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	NewStock  int64  `json:"new_stock"`
}

type inventoryLogListResponse struct {
	Items         []inventoryLogPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type stockResponse struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Stock     int64  `json:"stock"`
}

// InventoryHandlers exposes the append-only stock log.
type InventoryHandlers struct {
	inventory services.InventoryService
}

// NewInventoryHandlers constructs inventory handlers.
func NewInventoryHandlers(inventory services.InventoryService) *InventoryHandlers {
	return &InventoryHandlers{inventory: inventory}
}

// Routes registers the /inventory endpoints.
func (h *InventoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/adjustments", h.appendAdjustment)
	r.Get("/products/{productID}/logs", h.listLogs)
	r.Get("/products/{productID}/stock", h.reconstructStock)
}

func (h *InventoryHandlers) appendAdjustment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		unavailable(ctx, w, "inventory")
		return
	}

	var req inventoryAdjustmentRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	action, ok := domain.ParseInventoryAction(req.Action)
	if !ok {
		httpx.WriteError(ctx, w, httpx.BadRequest("action is not a known inventory action"))
		return
	}

	cmd := services.AppendAdjustmentCommand{
		ProductID:   req.ProductID,
		VariantID:   req.VariantID,
		Action:      action,
		Quantity:    req.Quantity,
		Reason:      req.Reason,
		ActorID:     actorID(r),
		UnitCost:    req.UnitCost,
		BatchNumber: req.BatchNumber,
	}
	if refType := strings.TrimSpace(req.ReferenceType); refType != "" {
		cmd.Reference = &services.InventoryReference{Type: refType, ID: strings.TrimSpace(req.ReferenceID)}
	}
	if raw := strings.TrimSpace(req.ExpiryDate); raw != "" {
		expiry, err := parseDateParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest("expiry_date must be a date or RFC3339 timestamp"))
			return
		}
		cmd.ExpiryDate = &expiry
	}

	stock, err := h.inventory.AppendInventoryAdjustment(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inventoryAdjustmentResponse{
		ProductID: formatID(req.ProductID),
		VariantID: formatOptionalID(req.VariantID),
		NewStock:  stock,
	})
}

func (h *InventoryHandlers) listLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		unavailable(ctx, w, "inventory")
		return
	}
	productID, ok := uintParam(w, r, "productID")
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{AllowedFilters: []string{"action", "variantId"}})
	if err != nil {
		writePaginationError(w, r, err)
		return
	}

	filter := services.InventoryLogFilter{
		ProductID: productID,
		Pagination: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}
	if raw, ok := params.Filters["action"]; ok {
		action := domain.InventoryAction(raw)
		filter.Action = &action
	}
	if raw, ok := params.Filters["variantId"]; ok {
		variantID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || variantID == 0 {
			httpx.WriteError(ctx, w, httpx.BadRequest("variantId must be a positive integer"))
			return
		}
		filter.VariantID = &variantID
	}

	page, err := h.inventory.ListAdjustments(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]inventoryLogPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, buildInventoryLogPayload(entry))
	}
	writeJSON(w, http.StatusOK, inventoryLogListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *InventoryHandlers) reconstructStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		unavailable(ctx, w, "inventory")
		return
	}
	productID, ok := uintParam(w, r, "productID")
	if !ok {
		return
	}

	var variantID *uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("variantId")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			httpx.WriteError(ctx, w, httpx.BadRequest("variantId must be a positive integer"))
			return
		}
		variantID = &id
	}

	stock, err := h.inventory.ReconstructStock(ctx, productID, variantID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{
		ProductID: formatID(productID),
		VariantID: formatOptionalID(variantID),
		Stock:     stock,
	})
}

func writePaginationError(w http.ResponseWriter, r *http.Request, err error) {
	code := "invalid_request"
	switch {
	case errors.Is(err, pagination.ErrInvalidPageSize):
		code = "invalid_page_size"
	case errors.Is(err, pagination.ErrInvalidPageToken):
		code = "invalid_page_token"
	case errors.Is(err, pagination.ErrInvalidFilter):
		code = "invalid_filter"
	}
	httpx.WriteError(r.Context(), w, httpx.NewError(code, err.Error(), http.StatusBadRequest))
}

func parseDateParam(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}

package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/platform/requestctx"
	"github.com/hanko-field/orderflow/internal/services"
)

const (
	maxWebhookBodySize     = 256 * 1024
	defaultWebhookLimit    = 120
	defaultWebhookWindow   = time.Minute
	webhookRateLimitHeader = "Retry-After"
)

type gatewayCallbackRequest struct {
	ExternalID    string         `json:"external_id"`
	Status        string         `json:"status"`
	Amount        *int64         `json:"amount"`
	FailureReason string         `json:"failure_reason"`
	Payload       map[string]any `json:"payload"`
}

type callbackResponse struct {
	Accepted         bool               `json:"accepted"`
	IdempotentReplay bool               `json:"idempotent_replay"`
	Transaction      transactionPayload `json:"transaction"`
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type webhookAckResponse struct {
	Received         bool   `json:"received"`
	Ignored          bool   `json:"ignored,omitempty"`
	Accepted         bool   `json:"accepted"`
	IdempotentReplay bool   `json:"idempotent_replay,omitempty"`
	TransactionRef   string `json:"transaction_ref,omitempty"`
	Status           string `json:"status,omitempty"`
}

// PaymentHandlers exposes gateway callbacks, refunds and signed webhooks.
type PaymentHandlers struct {
	payments services.PaymentService
	limiter  rateLimiter
}

// PaymentHandlerOption customises PaymentHandlers.
type PaymentHandlerOption func(*PaymentHandlers)

// WithWebhookRateLimit caps webhook deliveries per gateway and client address. A non-positive
// limit disables throttling.
func WithWebhookRateLimit(limit int, window time.Duration, clock func() time.Time) PaymentHandlerOption {
	return func(h *PaymentHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, clock)
	}
}

// NewPaymentHandlers constructs payment handlers.
func NewPaymentHandlers(payments services.PaymentService, opts ...PaymentHandlerOption) *PaymentHandlers {
	h := &PaymentHandlers{
		payments: payments,
		limiter:  newSimpleRateLimiter(defaultWebhookLimit, defaultWebhookWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{transactionRef}/callback", h.applyCallback)
	r.Post("/{transactionRef}/refunds", h.refund)
}

// WebhookRoutes registers the /webhooks endpoints.
func (h *PaymentHandlers) WebhookRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(h.throttleWebhooks).Post("/payments/{gateway}", h.receiveWebhook)
}

func (h *PaymentHandlers) applyCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		unavailable(ctx, w, "payment")
		return
	}
	ref := strings.TrimSpace(chi.URLParam(r, "transactionRef"))

	var req gatewayCallbackRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	status, ok := domain.ParseTransactionStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.BadRequest("status is not a known transaction status"))
		return
	}

	// Unsigned status reports only settle out-of-band payments; PSP-backed transactions move
	// through their verified webhooks.
	result, err := h.payments.ApplyGatewayCallback(ctx, services.GatewayCallback{
		TransactionRef: ref,
		ExternalID:     req.ExternalID,
		Gateway:        payments.ManualGatewayKey,
		ReportedStatus: status,
		Payload:        req.Payload,
		Amount:         req.Amount,
		FailureReason:  req.FailureReason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, callbackResponse{
		Accepted:         result.Accepted,
		IdempotentReplay: result.IdempotentReplay,
		Transaction:      buildTransactionPayload(result.Transaction),
	})
}

func (h *PaymentHandlers) refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		unavailable(ctx, w, "payment")
		return
	}
	ref := strings.TrimSpace(chi.URLParam(r, "transactionRef"))

	var req refundRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	txn, err := h.payments.Refund(ctx, services.RefundCommand{
		TransactionRef: ref,
		Amount:         req.Amount,
		Reason:         req.Reason,
		ActorID:        actorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse{Transaction: buildTransactionPayload(txn)})
}

func (h *PaymentHandlers) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		unavailable(ctx, w, "payment")
		return
	}
	gateway := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "gateway")))

	body, err := readLimitedBody(r, maxWebhookBodySize)
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload is required", http.StatusBadRequest))
		return
	}

	result, err := h.payments.HandleWebhook(ctx, gateway, r.Header, body)
	if err != nil {
		// Gateways retry anything but 2xx, so events we do not act on are acknowledged.
		if errors.Is(err, payments.ErrIgnoredEvent) {
			requestctx.Logger(ctx).Debug("webhook event ignored", zap.String("gateway", gateway), zap.Error(err))
			writeJSON(w, http.StatusOK, webhookAckResponse{Received: true, Ignored: true})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookAckResponse{
		Received:         true,
		Accepted:         result.Accepted,
		IdempotentReplay: result.IdempotentReplay,
		TransactionRef:   result.Transaction.TransactionRef,
		Status:           string(result.Transaction.Status),
	})
}

func (h *PaymentHandlers) throttleWebhooks(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil {
			key := chi.URLParam(r, "gateway") + "|" + r.RemoteAddr
			if ok, wait := h.limiter.Allow(key); !ok {
				w.Header().Set(webhookRateLimitHeader, strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many webhook deliveries", http.StatusTooManyRequests))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

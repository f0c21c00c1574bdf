package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

const (
	razorpaySignatureHeader = "X-Razorpay-Signature"
	razorpayEventIDHeader   = "X-Razorpay-Event-Id"
)

type razorpayPaymentAPI interface {
	Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayGatewayConfig configures the RazorpayGateway.
type RazorpayGatewayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Payments      razorpayPaymentAPI
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// RazorpayGateway verifies Razorpay webhooks and issues refunds when API keys are configured.
type RazorpayGateway struct {
	payments      razorpayPaymentAPI
	webhookSecret string
	logger        func(context.Context, string, map[string]any)
}

var (
	_ Gateway  = (*RazorpayGateway)(nil)
	_ Refunder = (*RazorpayGateway)(nil)
)

// NewRazorpayGateway constructs the Razorpay adapter.
func NewRazorpayGateway(cfg RazorpayGatewayConfig) (*RazorpayGateway, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("razorpay: webhook secret is required")
	}

	api := cfg.Payments
	if api == nil {
		keyID := strings.TrimSpace(cfg.KeyID)
		keySecret := strings.TrimSpace(cfg.KeySecret)
		if keyID != "" && keySecret != "" {
			api = razorpay.NewClient(keyID, keySecret).Payment
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &RazorpayGateway{
		payments:      api,
		webhookSecret: secret,
		logger:        logger,
	}, nil
}

type razorpayEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type razorpayPayment struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	AmountRefunded   int64             `json:"amount_refunded"`
	Status           string            `json:"status"`
	Notes            map[string]string `json:"notes"`
	ErrorDescription string            `json:"error_description"`
}

// ParseWebhook verifies X-Razorpay-Signature and maps payment and refund events.
func (g *RazorpayGateway) ParseWebhook(ctx context.Context, headers http.Header, body []byte) (Webhook, error) {
	signature := strings.TrimSpace(headers.Get(razorpaySignatureHeader))
	if signature == "" {
		return Webhook{}, fmt.Errorf("%w: %s header missing", ErrInvalidSignature, razorpaySignatureHeader)
	}
	if !utils.VerifyWebhookSignature(string(body), signature, g.webhookSecret) {
		return Webhook{}, fmt.Errorf("%w: razorpay signature mismatch", ErrInvalidSignature)
	}

	var envelope razorpayEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Webhook{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Webhook{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if envelope.Payload.Payment == nil {
		return Webhook{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, envelope.Event)
	}
	payment := envelope.Payload.Payment.Entity

	hook := Webhook{
		EventID:        strings.TrimSpace(headers.Get(razorpayEventIDHeader)),
		EventType:      envelope.Event,
		ExternalID:     payment.ID,
		TransactionRef: payment.Notes[TransactionRefMetadataKey],
		Payload:        payload,
	}

	switch envelope.Event {
	case "payment.authorized":
		hook.Status = domain.TransactionStatusProcessing
	case "payment.captured", "order.paid":
		hook.Status = domain.TransactionStatusPaid
	case "payment.failed":
		hook.Status = domain.TransactionStatusFailed
		hook.FailureReason = payment.ErrorDescription
	case "refund.processed", "payment.refunded":
		refunded := payment.AmountRefunded
		hook.Amount = &refunded
		hook.Status = domain.TransactionStatusPartiallyRefunded
		if payment.Amount > 0 && payment.AmountRefunded >= payment.Amount {
			hook.Status = domain.TransactionStatusRefunded
		}
	default:
		return Webhook{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, envelope.Event)
	}

	if hook.ExternalID == "" && hook.TransactionRef == "" {
		return Webhook{}, fmt.Errorf("%w: event %s carries no payment reference", ErrMalformedPayload, envelope.Event)
	}
	g.logger(ctx, "payments.razorpay.webhook.verified", map[string]any{
		"eventID": hook.EventID,
		"type":    hook.EventType,
		"payment": hook.ExternalID,
	})
	return hook, nil
}

// Refund returns money for a captured Razorpay payment. Amounts are in the smallest currency unit.
func (g *RazorpayGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if g.payments == nil {
		return RefundResult{}, errors.New("razorpay: api keys are not configured")
	}
	if strings.TrimSpace(req.ExternalID) == "" {
		return RefundResult{}, errors.New("razorpay: payment id is required for refunds")
	}

	data := map[string]interface{}{}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		data["notes"] = map[string]interface{}{"reason": reason}
	}
	headers := map[string]string{}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		headers["X-Razorpay-Idempotency"] = key
	}

	resp, err := g.payments.Refund(req.ExternalID, int(req.Amount), data, headers)
	if err != nil {
		return RefundResult{}, fmt.Errorf("razorpay: refund payment: %w", err)
	}
	result := RefundResult{Raw: resp}
	if id, ok := resp["id"].(string); ok {
		result.RefundID = id
	}
	if status, ok := resp["status"].(string); ok {
		result.Status = status
	}
	g.logger(ctx, "payments.razorpay.refund.created", map[string]any{
		"payment": req.ExternalID,
		"refund":  result.RefundID,
		"amount":  req.Amount,
	})
	return result, nil
}

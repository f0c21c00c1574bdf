package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	// TransactionRefMetadataKey is the metadata key carrying the internal transaction reference.
	TransactionRefMetadataKey = "transaction_ref"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey        string
	AccountID     string
	WebhookSecret string
	Tolerance     time.Duration
	Backends      *stripe.Backends
	Logger        StripeLogger
	Refunds       stripeRefundAPI
}

// StripeGateway verifies Stripe webhooks and issues refunds against payment intents.
type StripeGateway struct {
	refunds       stripeRefundAPI
	account       string
	webhookSecret string
	tolerance     time.Duration
	logger        StripeLogger
}

var (
	_ Gateway  = (*StripeGateway)(nil)
	_ Refunder = (*StripeGateway)(nil)
)

// NewStripeGateway constructs the Stripe adapter using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Refunds == nil {
		return nil, errors.New("stripe: api key is required")
	}

	refunds := cfg.Refunds
	if refunds == nil {
		sc := client.New(apiKey, cfg.Backends)
		refunds = sc.Refunds
	}

	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		refunds:       refunds,
		account:       strings.TrimSpace(cfg.AccountID),
		webhookSecret: secret,
		tolerance:     tolerance,
		logger:        logger,
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps payment intent and charge events.
func (g *StripeGateway) ParseWebhook(ctx context.Context, headers http.Header, body []byte) (Webhook, error) {
	event, err := webhook.ConstructEventWithOptions(body, headers.Get(stripeSignatureHeader), g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                g.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Webhook{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Webhook{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	hook := Webhook{
		EventID:   event.ID,
		EventType: string(event.Type),
		Payload:   payload,
	}
	if event.Data == nil {
		return Webhook{}, fmt.Errorf("%w: event %s has no data", ErrMalformedPayload, event.ID)
	}

	switch hook.EventType {
	case "payment_intent.succeeded", "payment_intent.processing", "payment_intent.payment_failed", "payment_intent.canceled":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return Webhook{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		hook.ExternalID = intent.ID
		hook.TransactionRef = intent.Metadata[TransactionRefMetadataKey]
		hook.Status = stripeIntentStatus(hook.EventType)
		if intent.LastPaymentError != nil {
			hook.FailureReason = intent.LastPaymentError.Msg
		}
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return Webhook{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if charge.PaymentIntent != nil {
			hook.ExternalID = charge.PaymentIntent.ID
		}
		hook.TransactionRef = charge.Metadata[TransactionRefMetadataKey]
		refunded := charge.AmountRefunded
		hook.Amount = &refunded
		hook.Status = domain.TransactionStatusPartiallyRefunded
		if charge.Refunded || (charge.Amount > 0 && charge.AmountRefunded >= charge.Amount) {
			hook.Status = domain.TransactionStatusRefunded
		}
	default:
		return Webhook{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, hook.EventType)
	}

	if hook.ExternalID == "" && hook.TransactionRef == "" {
		return Webhook{}, fmt.Errorf("%w: event %s carries no payment reference", ErrMalformedPayload, event.ID)
	}
	g.logger(ctx, "payments.stripe.webhook.verified", map[string]any{
		"eventID":       hook.EventID,
		"type":          hook.EventType,
		"paymentIntent": hook.ExternalID,
	})
	return hook, nil
}

// Refund creates a refund for the payment intent stored as the transaction's external id.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if g == nil {
		return RefundResult{}, errors.New("stripe: gateway is nil")
	}
	if strings.TrimSpace(req.ExternalID) == "" {
		return RefundResult{}, errors.New("stripe: payment intent id is required for refunds")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ExternalID),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}

	refund, err := g.refunds.New(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	g.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": req.ExternalID,
		"refund":        refund.ID,
		"amount":        req.Amount,
	})

	raw := map[string]any{}
	if data, err := json.Marshal(refund); err == nil {
		_ = json.Unmarshal(data, &raw)
	}
	return RefundResult{
		RefundID: refund.ID,
		Status:   string(refund.Status),
		Raw:      raw,
	}, nil
}

func stripeIntentStatus(eventType string) domain.TransactionStatus {
	switch eventType {
	case "payment_intent.succeeded":
		return domain.TransactionStatusPaid
	case "payment_intent.processing":
		return domain.TransactionStatusProcessing
	case "payment_intent.payment_failed":
		return domain.TransactionStatusFailed
	default:
		return domain.TransactionStatusCancelled
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

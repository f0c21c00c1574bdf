package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"

	defaultClockSkew = 5 * time.Minute
)

// SignedGateway verifies webhooks from local wallets and bank-transfer aggregators that sign the
// body with a shared HMAC-SHA256 secret. The canonical string is "<timestamp>\n<hex sha256(body)>".
type SignedGateway struct {
	name            string
	secret          []byte
	now             func() time.Time
	clockSkew       time.Duration
	signatureHeader string
	timestampHeader string
}

var _ Gateway = (*SignedGateway)(nil)

// SignedGatewayOption customises the gateway.
type SignedGatewayOption func(*SignedGateway)

// WithSignedClock injects a custom clock, primarily for tests.
func WithSignedClock(now func() time.Time) SignedGatewayOption {
	return func(g *SignedGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithSignedClockSkew adjusts the accepted timestamp skew.
func WithSignedClockSkew(d time.Duration) SignedGatewayOption {
	return func(g *SignedGateway) {
		if d > 0 {
			g.clockSkew = d
		}
	}
}

// WithSignedHeaders customises the header names carrying the signature and timestamp.
func WithSignedHeaders(signature, timestamp string) SignedGatewayOption {
	return func(g *SignedGateway) {
		if signature != "" {
			g.signatureHeader = signature
		}
		if timestamp != "" {
			g.timestampHeader = timestamp
		}
	}
}

// NewSignedGateway builds a gateway named name that verifies with secret.
func NewSignedGateway(name, secret string, opts ...SignedGatewayOption) (*SignedGateway, error) {
	name = normalizeKey(name)
	if name == "" {
		return nil, errors.New("payments: signed gateway name is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("payments: secret for signed gateway %q is empty", name)
	}
	g := &SignedGateway{
		name:            name,
		secret:          []byte(secret),
		now:             time.Now,
		clockSkew:       defaultClockSkew,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

type signedNotification struct {
	EventID        string  `json:"event_id"`
	EventType      string  `json:"event_type"`
	TransactionRef string  `json:"transaction_ref"`
	ExternalID     string  `json:"external_id"`
	Status         string  `json:"status"`
	Amount         *int64  `json:"amount"`
	FailureReason  *string `json:"failure_reason"`
}

// ParseWebhook checks the timestamp window and signature before decoding the notification.
func (g *SignedGateway) ParseWebhook(_ context.Context, headers http.Header, body []byte) (Webhook, error) {
	signatureValue := strings.TrimSpace(headers.Get(g.signatureHeader))
	if signatureValue == "" {
		return Webhook{}, fmt.Errorf("%w: signature header missing", ErrInvalidSignature)
	}
	timestampValue := strings.TrimSpace(headers.Get(g.timestampHeader))
	if timestampValue == "" {
		return Webhook{}, fmt.Errorf("%w: signature timestamp missing", ErrInvalidSignature)
	}
	timestamp, err := parseSignatureTimestamp(timestampValue)
	if err != nil {
		return Webhook{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if skew := g.now().Sub(timestamp); skew > g.clockSkew || skew < -g.clockSkew {
		return Webhook{}, fmt.Errorf("%w: signature timestamp outside allowed window", ErrInvalidSignature)
	}

	signature, err := decodeSignature(signatureValue)
	if err != nil {
		return Webhook{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	expected := computeHMAC(g.secret, canonicalPayload(timestampValue, body))
	if !hmac.Equal(signature, expected) {
		return Webhook{}, fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	var note signedNotification
	if err := json.Unmarshal(body, &note); err != nil {
		return Webhook{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	status, ok := domain.ParseTransactionStatus(note.Status)
	if !ok {
		return Webhook{}, fmt.Errorf("%w: unknown status %q", ErrMalformedPayload, note.Status)
	}
	if strings.TrimSpace(note.TransactionRef) == "" && strings.TrimSpace(note.ExternalID) == "" {
		return Webhook{}, fmt.Errorf("%w: transaction_ref or external_id is required", ErrMalformedPayload)
	}

	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Webhook{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	hook := Webhook{
		EventID:        strings.TrimSpace(note.EventID),
		EventType:      strings.TrimSpace(note.EventType),
		TransactionRef: strings.TrimSpace(note.TransactionRef),
		ExternalID:     strings.TrimSpace(note.ExternalID),
		Status:         status,
		Amount:         note.Amount,
		Payload:        payload,
	}
	if note.FailureReason != nil {
		hook.FailureReason = strings.TrimSpace(*note.FailureReason)
	}
	return hook, nil
}

// Sign produces the header values a sender attaches to body. It mirrors ParseWebhook and is used
// by integration tooling and tests.
func (g *SignedGateway) Sign(body []byte, at time.Time) http.Header {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	headers := http.Header{}
	headers.Set(g.signatureHeader, hex.EncodeToString(computeHMAC(g.secret, canonicalPayload(timestamp, body))))
	headers.Set(g.timestampHeader, timestamp)
	return headers
}

func canonicalPayload(timestamp string, body []byte) []byte {
	hash := sha256.Sum256(body)
	return []byte(timestamp + "\n" + hex.EncodeToString(hash[:]))
}

func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty signature")
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("signature must be hex or base64 encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp %q", value)
}

func computeHMAC(secret []byte, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

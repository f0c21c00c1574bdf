package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// ManualGatewayKey names the gateway used for cash-on-delivery and staff-confirmed payments.
const ManualGatewayKey = "manual"

var (
	// ErrUnsupportedGateway is returned when the manager cannot locate a gateway.
	ErrUnsupportedGateway = errors.New("payments: unsupported gateway")
	// ErrInvalidSignature indicates the webhook signature could not be verified.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrMalformedPayload indicates the webhook body could not be decoded.
	ErrMalformedPayload = errors.New("payments: malformed webhook payload")
	// ErrIgnoredEvent indicates a verified webhook whose event type carries no status change.
	ErrIgnoredEvent = errors.New("payments: event type ignored")
	// ErrWebhooksUnsupported is returned by gateways that never send webhooks.
	ErrWebhooksUnsupported = errors.New("payments: gateway does not send webhooks")
)

// Webhook is a verified gateway notification normalised for reconciliation. Amount is the
// cumulative refunded amount for refund events.
type Webhook struct {
	Gateway        string
	EventID        string
	EventType      string
	TransactionRef string
	ExternalID     string
	Status         domain.TransactionStatus
	Amount         *int64
	FailureReason  string
	Payload        map[string]any
}

// Gateway verifies and normalises the webhooks of one payment service provider.
type Gateway interface {
	ParseWebhook(ctx context.Context, headers http.Header, body []byte) (Webhook, error)
}

// RefundRequest asks the provider to return money for a captured payment.
type RefundRequest struct {
	ExternalID     string
	Amount         int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// RefundResult is the provider's answer to a refund request.
type RefundResult struct {
	RefundID string
	Status   string
	Raw      map[string]any
}

// Refunder is implemented by gateways that can issue refunds through the provider API.
type Refunder interface {
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// Manager resolves gateways by key, payment method or default.
type Manager struct {
	gateways       map[string]Gateway
	defaultGateway string
	methodRoutes   map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultGateway overrides the gateway used when neither a preference nor a method route matches.
func WithDefaultGateway(gateway string) ManagerOption {
	return func(m *Manager) {
		m.defaultGateway = normalizeKey(gateway)
	}
}

// WithMethodRoutes configures static payment method to gateway mappings.
func WithMethodRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.methodRoutes == nil {
			m.methodRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.methodRoutes[normalizeKey(k)] = normalizeKey(v)
		}
	}
}

// NewManager constructs a Manager over the supplied gateways. The manual gateway is always registered.
func NewManager(gateways map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	copyMap := make(map[string]Gateway, len(gateways)+1)
	for k, v := range gateways {
		key := normalizeKey(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for key %q", k)
		}
		copyMap[key] = v
	}
	if _, ok := copyMap[ManualGatewayKey]; !ok {
		copyMap[ManualGatewayKey] = ManualGateway{}
	}
	m := &Manager{
		gateways:       copyMap,
		defaultGateway: ManualGatewayKey,
		methodRoutes: map[string]string{
			string(domain.PaymentMethodCOD): ManualGatewayKey,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a gateway.
type PaymentContext struct {
	PreferredGateway string
	Method           domain.PaymentMethod
}

// Resolve picks the gateway for a new payment attempt: the preferred gateway when registered,
// then the method route, then the default.
func (m *Manager) Resolve(ctx PaymentContext) (string, Gateway, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if preferred := normalizeKey(ctx.PreferredGateway); preferred != "" {
		if g, ok := m.gateways[preferred]; ok {
			return preferred, g, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, preferred)
	}
	if method := normalizeKey(string(ctx.Method)); method != "" {
		if key, ok := m.methodRoutes[method]; ok {
			if g, ok := m.gateways[key]; ok {
				return key, g, nil
			}
		}
	}
	if g, ok := m.gateways[m.defaultGateway]; ok {
		return m.defaultGateway, g, nil
	}
	return "", nil, ErrUnsupportedGateway
}

// Gateway returns the registered gateway for key.
func (m *Manager) Gateway(key string) (Gateway, error) {
	if m == nil {
		return nil, errors.New("payments: manager is nil")
	}
	key = normalizeKey(key)
	g, ok := m.gateways[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, key)
	}
	return g, nil
}

// ParseWebhook verifies the raw webhook through the named gateway.
func (m *Manager) ParseWebhook(ctx context.Context, gateway string, headers http.Header, body []byte) (Webhook, error) {
	g, err := m.Gateway(gateway)
	if err != nil {
		return Webhook{}, err
	}
	hook, err := g.ParseWebhook(ctx, headers, body)
	if err != nil {
		return Webhook{}, err
	}
	hook.Gateway = normalizeKey(gateway)
	return hook, nil
}

// Refunder returns the gateway's refund capability when it has one.
func (m *Manager) Refunder(gateway string) (Refunder, bool) {
	g, err := m.Gateway(gateway)
	if err != nil {
		return nil, false
	}
	r, ok := g.(Refunder)
	return r, ok
}

// ManualGateway records payments confirmed out of band. Staff report their status through the
// callback endpoint; it never receives webhooks and refunds are settled offline.
type ManualGateway struct{}

func (ManualGateway) ParseWebhook(context.Context, http.Header, []byte) (Webhook, error) {
	return Webhook{}, ErrWebhooksUnsupported
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

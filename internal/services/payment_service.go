package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/platform/textutil"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	paymentEventStatusChanged = "payment.status_changed"
	paymentEventRefunded      = "payment.refunded"
)

var (
	// ErrPaymentInvalidInput signals malformed payment requests.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the transaction or its order does not exist.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentConflict indicates a duplicate reference or a concurrent update.
	ErrPaymentConflict = errors.New("payment: conflict")
	// ErrPaymentRepositoryUnavailable indicates the backing store could not be reached.
	ErrPaymentRepositoryUnavailable = errors.New("payment: repository unavailable")
	// ErrPaymentInvalidState indicates the transaction cannot accept the change, e.g. refunding an unpaid attempt.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
	// ErrPaymentGatewayFailure wraps errors returned by the payment service provider.
	ErrPaymentGatewayFailure = errors.New("payment: gateway failure")
	// ErrPaymentGatewayMismatch indicates a status report from a gateway that does not own the transaction.
	ErrPaymentGatewayMismatch = errors.New("payment: gateway mismatch")
)

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Transactions repositories.PaymentTransactionRepository
	Orders       OrderService
	Gateways     *payments.Manager
	UnitOfWork   repositories.UnitOfWork
	Events       EventPublisher
	Clock        func() time.Time
	IDGenerator  func() string
	Sanitize     func(string) string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	transactions repositories.PaymentTransactionRepository
	orders       OrderService
	gateways     *payments.Manager
	unitOfWork   repositories.UnitOfWork
	events       EventPublisher
	clock        func() time.Time
	newID        func() string
	sanitize     func(string) string
	logger       func(context.Context, string, map[string]any)
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService wires payment reconciliation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Transactions == nil {
		return nil, errors.New("payment service: transaction repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order service is required")
	}

	gateways := deps.Gateways
	if gateways == nil {
		mgr, err := payments.NewManager(nil)
		if err != nil {
			return nil, fmt.Errorf("payment service: build default gateway manager: %w", err)
		}
		gateways = mgr
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	sanitize := deps.Sanitize
	if sanitize == nil {
		sanitize = textutil.SanitizeFreeText
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		transactions: deps.Transactions,
		orders:       deps.Orders,
		gateways:     gateways,
		unitOfWork:   unit,
		events:       deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

// RecordPaymentAttempt opens a pending transaction against an existing order.
func (s *paymentService) RecordPaymentAttempt(ctx context.Context, cmd RecordPaymentCommand) (PaymentTransaction, error) {
	if cmd.OrderID == 0 {
		return PaymentTransaction{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if cmd.Amount <= 0 {
		return PaymentTransaction{}, fmt.Errorf("%w: amount must be positive", ErrPaymentInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		return PaymentTransaction{}, fmt.Errorf("%w: currency is required", ErrPaymentInvalidInput)
	}
	method, ok := domain.ParsePaymentMethod(string(cmd.Method))
	if !ok {
		return PaymentTransaction{}, fmt.Errorf("%w: unknown payment method %q", ErrPaymentInvalidInput, cmd.Method)
	}
	gateway, _, err := s.gateways.Resolve(payments.PaymentContext{PreferredGateway: cmd.Gateway, Method: method})
	if err != nil {
		return PaymentTransaction{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}

	var created PaymentTransaction
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.orders.GetOrder(txCtx, cmd.OrderID); err != nil {
			return s.mapOrderError(err)
		}

		now := s.now()
		inserted, err := s.transactions.Insert(txCtx, PaymentTransaction{
			TransactionRef: s.newID(),
			OrderID:        cmd.OrderID,
			Gateway:        gateway,
			Method:         method,
			Amount:         cmd.Amount,
			Currency:       currency,
			Status:         domain.TransactionStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			return s.mapRepositoryError(err)
		}
		created = inserted
		return s.syncOrderPaymentStatus(txCtx, cmd.OrderID)
	})
	if err != nil {
		return PaymentTransaction{}, err
	}

	s.logger(ctx, "payment.attempt.recorded", map[string]any{
		"transactionRef": created.TransactionRef,
		"orderID":        created.OrderID,
		"gateway":        created.Gateway,
		"amount":         created.Amount,
	})
	return created, nil
}

// ApplyGatewayCallback reconciles a gateway status report. Re-deliveries of an already applied
// status are acknowledged without writing; reports that would move the transaction backwards are
// refused without writing.
func (s *paymentService) ApplyGatewayCallback(ctx context.Context, cb GatewayCallback) (CallbackResult, error) {
	ref := strings.TrimSpace(cb.TransactionRef)
	externalID := strings.TrimSpace(cb.ExternalID)
	if ref == "" && externalID == "" {
		return CallbackResult{}, fmt.Errorf("%w: transaction reference or external id is required", ErrPaymentInvalidInput)
	}
	reported, ok := domain.ParseTransactionStatus(string(cb.ReportedStatus))
	if !ok {
		return CallbackResult{}, fmt.Errorf("%w: unknown status %q", ErrPaymentInvalidInput, cb.ReportedStatus)
	}
	if cb.Amount != nil && *cb.Amount < 0 {
		return CallbackResult{}, fmt.Errorf("%w: amount must not be negative", ErrPaymentInvalidInput)
	}

	var (
		result   CallbackResult
		previous TransactionStatus
		written  bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		result = CallbackResult{}
		written = false

		txn, err := s.lookupTransaction(txCtx, ref, cb.Gateway, externalID)
		if err != nil {
			return err
		}
		previous = txn.Status

		if !s.reconcile(&txn, reported, cb) {
			result.Transaction = txn
			if txn.Status == reported {
				result.Accepted = true
				result.IdempotentReplay = true
			} else {
				result.IdempotentReplay = txn.Status.IsTerminal()
			}
			return nil
		}

		if txn.ExternalID == nil && externalID != "" {
			txn.ExternalID = &externalID
		}
		if cb.Payload != nil {
			txn.GatewayPayload = maps.Clone(cb.Payload)
		}
		if err := s.transactions.Update(txCtx, txn); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.syncOrderPaymentStatus(txCtx, txn.OrderID); err != nil {
			return err
		}
		result = CallbackResult{Accepted: true, Transaction: txn}
		written = true
		return nil
	})
	if err != nil {
		return CallbackResult{}, err
	}

	fields := map[string]any{
		"transactionRef": result.Transaction.TransactionRef,
		"orderID":        result.Transaction.OrderID,
		"previousStatus": string(previous),
		"reportedStatus": string(reported),
	}
	switch {
	case written:
		s.logger(ctx, "payment.callback.applied", fields)
		s.publishEvent(ctx, paymentEventStatusChanged, result.Transaction, map[string]any{
			"previousStatus": string(previous),
			"status":         string(result.Transaction.Status),
		})
	case result.Accepted:
		s.logger(ctx, "payment.callback.replayed", fields)
	default:
		s.logger(ctx, "payment.callback.rejected", fields)
	}
	return result, nil
}

// HandleWebhook verifies a raw gateway notification and applies it.
func (s *paymentService) HandleWebhook(ctx context.Context, gateway string, headers http.Header, body []byte) (CallbackResult, error) {
	hook, err := s.gateways.ParseWebhook(ctx, gateway, headers, body)
	if err != nil {
		s.logger(ctx, "payment.webhook.rejected", map[string]any{
			"gateway": gateway,
			"error":   err.Error(),
		})
		return CallbackResult{}, err
	}

	return s.ApplyGatewayCallback(ctx, GatewayCallback{
		TransactionRef: hook.TransactionRef,
		ExternalID:     hook.ExternalID,
		Gateway:        hook.Gateway,
		ReportedStatus: hook.Status,
		Payload:        hook.Payload,
		Amount:         hook.Amount,
		FailureReason:  hook.FailureReason,
	})
}

// Refund returns part or all of a collected payment. Gateways that expose a refund API are called
// before the ledger is updated so a provider failure leaves the transaction untouched.
func (s *paymentService) Refund(ctx context.Context, cmd RefundCommand) (PaymentTransaction, error) {
	ref := strings.TrimSpace(cmd.TransactionRef)
	if ref == "" {
		return PaymentTransaction{}, fmt.Errorf("%w: transaction reference is required", ErrPaymentInvalidInput)
	}
	if cmd.Amount <= 0 {
		return PaymentTransaction{}, fmt.Errorf("%w: refund amount must be positive", ErrPaymentInvalidInput)
	}
	reason := s.sanitize(cmd.Reason)

	current, err := s.transactions.FindByRef(ctx, ref)
	if err != nil {
		return PaymentTransaction{}, s.mapRepositoryError(err)
	}
	probe := current
	if err := probe.ApplyRefund(cmd.Amount, s.now()); err != nil {
		return PaymentTransaction{}, mapRefundError(err)
	}

	var providerResult *payments.RefundResult
	if refunder, ok := s.gateways.Refunder(current.Gateway); ok {
		if current.ExternalID == nil || *current.ExternalID == "" {
			return PaymentTransaction{}, fmt.Errorf("%w: transaction %s has no gateway reference", ErrPaymentInvalidState, ref)
		}
		res, err := refunder.Refund(ctx, payments.RefundRequest{
			ExternalID:     *current.ExternalID,
			Amount:         cmd.Amount,
			Currency:       current.Currency,
			Reason:         reason,
			IdempotencyKey: fmt.Sprintf("%s:%d:%d", current.TransactionRef, current.RefundedAmount, cmd.Amount),
		})
		if err != nil {
			s.logger(ctx, "payment.refund.gateway_failed", map[string]any{
				"transactionRef": ref,
				"gateway":        current.Gateway,
				"error":          err.Error(),
			})
			return PaymentTransaction{}, fmt.Errorf("%w: %w", ErrPaymentGatewayFailure, err)
		}
		providerResult = &res
	}

	var (
		updated  PaymentTransaction
		previous TransactionStatus
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		txn, err := s.transactions.FindByRef(txCtx, ref)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		previous = txn.Status
		if err := txn.ApplyRefund(cmd.Amount, s.now()); err != nil {
			return mapRefundError(err)
		}
		if providerResult != nil {
			payload := maps.Clone(txn.GatewayPayload)
			if payload == nil {
				payload = map[string]any{}
			}
			payload["last_refund"] = map[string]any{
				"id":     providerResult.RefundID,
				"status": providerResult.Status,
				"amount": cmd.Amount,
			}
			txn.GatewayPayload = payload
		}
		if err := s.transactions.Update(txCtx, txn); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = txn
		return s.syncOrderPaymentStatus(txCtx, txn.OrderID)
	})
	if err != nil {
		if providerResult != nil {
			s.recordPendingRefund(ctx, ref, *providerResult, cmd.Amount, reason, err)
		}
		return PaymentTransaction{}, err
	}

	s.logger(ctx, "payment.refund.recorded", map[string]any{
		"transactionRef": ref,
		"amount":         cmd.Amount,
		"refundedAmount": updated.RefundedAmount,
		"actorID":        strings.TrimSpace(cmd.ActorID),
		"reason":         reason,
	})
	s.publishEvent(ctx, paymentEventRefunded, updated, map[string]any{
		"previousStatus": string(previous),
		"status":         string(updated.Status),
		"amount":         cmd.Amount,
		"refundedAmount": updated.RefundedAmount,
	})
	return updated, nil
}

func (s *paymentService) ListTransactions(ctx context.Context, orderID uint64) ([]PaymentTransaction, error) {
	if orderID == 0 {
		return nil, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if _, err := s.orders.GetOrder(ctx, orderID); err != nil {
		return nil, s.mapOrderError(err)
	}
	txns, err := s.transactions.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return txns, nil
}

// reconcile applies the reported status to txn and reports whether anything changed.
func (s *paymentService) reconcile(txn *PaymentTransaction, reported TransactionStatus, cb GatewayCallback) bool {
	now := s.now()
	if txn.Status == reported {
		// A larger cumulative amount on a partial refund is a further refund, not a replay.
		if reported != domain.TransactionStatusPartiallyRefunded || cb.Amount == nil {
			return false
		}
		if *cb.Amount <= txn.RefundedAmount || *cb.Amount > txn.Amount {
			return false
		}
		txn.RefundedAmount = *cb.Amount
		if txn.RefundedAmount == txn.Amount {
			txn.Status = domain.TransactionStatusRefunded
		}
		txn.RefundedAt = &now
		txn.UpdatedAt = now
		return true
	}

	if !txn.ApplyStatus(reported, now) {
		return false
	}
	switch reported {
	case domain.TransactionStatusPartiallyRefunded:
		if cb.Amount != nil && *cb.Amount > txn.RefundedAmount && *cb.Amount <= txn.Amount {
			txn.RefundedAmount = *cb.Amount
		}
		if txn.RefundedAmount == txn.Amount {
			txn.Status = domain.TransactionStatusRefunded
		}
		txn.RefundedAt = &now
	case domain.TransactionStatusFailed, domain.TransactionStatusCancelled, domain.TransactionStatusExpired:
		if reason := s.sanitize(cb.FailureReason); reason != "" {
			txn.FailureReason = reason
		}
	}
	return true
}

// lookupTransaction finds the transaction a status report refers to. A non-empty gateway must own
// the transaction; an empty gateway is only passed by internal callers.
func (s *paymentService) lookupTransaction(ctx context.Context, ref, gateway, externalID string) (PaymentTransaction, error) {
	gateway = strings.ToLower(strings.TrimSpace(gateway))
	if ref != "" {
		txn, err := s.transactions.FindByRef(ctx, ref)
		if err == nil {
			if gateway != "" && txn.Gateway != gateway {
				return PaymentTransaction{}, fmt.Errorf("%w: transaction %s is not settled through %s", ErrPaymentGatewayMismatch, ref, gateway)
			}
			return txn, nil
		}
		if externalID == "" || !isRepositoryNotFound(err) {
			return PaymentTransaction{}, s.mapRepositoryError(err)
		}
	}
	if gateway == "" {
		return PaymentTransaction{}, fmt.Errorf("%w: gateway is required to look up external id %s", ErrPaymentInvalidInput, externalID)
	}
	txn, err := s.transactions.FindByExternalID(ctx, gateway, externalID)
	if err != nil {
		return PaymentTransaction{}, s.mapRepositoryError(err)
	}
	return txn, nil
}

// syncOrderPaymentStatus derives the order's payment status from all of its transactions.
func (s *paymentService) syncOrderPaymentStatus(ctx context.Context, orderID uint64) error {
	txns, err := s.transactions.ListByOrder(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if _, err := s.orders.MarkPaymentStatus(ctx, orderID, derivePaymentStatus(txns)); err != nil {
		return s.mapOrderError(err)
	}
	return nil
}

// derivePaymentStatus picks the strongest status among txns: collected money wins over refunds,
// refunds over in-flight attempts, in-flight attempts over failures.
func derivePaymentStatus(txns []PaymentTransaction) PaymentStatus {
	var partial, refunded, pending, failed bool
	for _, txn := range txns {
		switch txn.Status {
		case domain.TransactionStatusPaid, domain.TransactionStatusConfirmed:
			return domain.PaymentStatusPaid
		case domain.TransactionStatusPartiallyRefunded:
			partial = true
		case domain.TransactionStatusRefunded:
			refunded = true
		case domain.TransactionStatusPending, domain.TransactionStatusProcessing:
			pending = true
		case domain.TransactionStatusFailed, domain.TransactionStatusCancelled, domain.TransactionStatusExpired:
			failed = true
		}
	}
	switch {
	case partial:
		return domain.PaymentStatusPartiallyRefunded
	case refunded:
		return domain.PaymentStatusRefunded
	case pending:
		return domain.PaymentStatusPending
	case failed:
		return domain.PaymentStatusFailed
	default:
		return domain.PaymentStatusUnpaid
	}
}

func mapRefundError(err error) error {
	switch {
	case errors.Is(err, domain.ErrRefundNotAllowed), errors.Is(err, domain.ErrRefundExceedsAmount):
		return fmt.Errorf("%w: %v", ErrPaymentInvalidState, err)
	default:
		return err
	}
}

func (s *paymentService) mapOrderError(err error) error {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return fmt.Errorf("%w: %w", ErrPaymentNotFound, err)
	case errors.Is(err, ErrOrderConflict):
		return fmt.Errorf("%w: %w", ErrPaymentConflict, err)
	default:
		return err
	}
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %w", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %w", ErrPaymentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrPaymentRepositoryUnavailable, err)
		}
	}
	return err
}

// recordPendingRefund stores a gateway refund the ledger transaction failed to absorb under
// pending_refunds. A retried Refund for the same amount reuses the gateway idempotency key.
func (s *paymentService) recordPendingRefund(ctx context.Context, ref string, result payments.RefundResult, amount int64, reason string, cause error) {
	fields := map[string]any{
		"transactionRef": ref,
		"refundID":       result.RefundID,
		"refundStatus":   result.Status,
		"amount":         amount,
		"error":          cause.Error(),
	}
	s.logger(ctx, "payment.refund.ledger_failed", fields)

	txn, err := s.transactions.FindByRef(ctx, ref)
	if err == nil {
		payload := maps.Clone(txn.GatewayPayload)
		if payload == nil {
			payload = map[string]any{}
		}
		pending, _ := payload["pending_refunds"].([]any)
		payload["pending_refunds"] = append(slices.Clone(pending), map[string]any{
			"id":          result.RefundID,
			"status":      result.Status,
			"amount":      amount,
			"reason":      reason,
			"recorded_at": s.now().Format(time.RFC3339),
		})
		txn.GatewayPayload = payload
		err = s.transactions.Update(ctx, txn)
	}
	if err != nil {
		s.logger(ctx, "payment.refund.pending_not_recorded", map[string]any{
			"transactionRef": ref,
			"refundID":       result.RefundID,
			"error":          err.Error(),
		})
	}
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *paymentService) now() time.Time {
	return s.clock()
}

func (s *paymentService) publishEvent(ctx context.Context, eventType string, txn PaymentTransaction, payload map[string]any) {
	if s.events == nil {
		return
	}
	body := maps.Clone(payload)
	if body == nil {
		body = map[string]any{}
	}
	body["transactionRef"] = txn.TransactionRef
	body["gateway"] = txn.Gateway
	event := Event{
		ID:         s.newID(),
		Type:       eventType,
		OrderID:    txn.OrderID,
		OccurredAt: s.now(),
		Payload:    body,
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "payment.event.publish.failed", map[string]any{
			"type":           event.Type,
			"transactionRef": txn.TransactionRef,
			"error":          err.Error(),
		})
	}
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

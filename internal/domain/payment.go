package domain

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// TransactionStatus is the gateway-facing lifecycle of a payment attempt.
type TransactionStatus string

const (
	TransactionStatusPending           TransactionStatus = "pending"
	TransactionStatusProcessing        TransactionStatus = "processing"
	TransactionStatusPaid              TransactionStatus = "paid"
	TransactionStatusConfirmed         TransactionStatus = "confirmed"
	TransactionStatusFailed            TransactionStatus = "failed"
	TransactionStatusCancelled         TransactionStatus = "cancelled"
	TransactionStatusExpired           TransactionStatus = "expired"
	TransactionStatusPartiallyRefunded TransactionStatus = "partially_refunded"
	TransactionStatusRefunded          TransactionStatus = "refunded"
)

// PaymentMethod identifies how the customer pays.
type PaymentMethod string

const (
	PaymentMethodCOD          PaymentMethod = "cod"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodEWallet      PaymentMethod = "e_wallet"
	PaymentMethodQRCode       PaymentMethod = "qr_code"
)

var (
	// ErrRefundExceedsAmount is returned when refunds would exceed the captured amount.
	ErrRefundExceedsAmount = errors.New("payment: refund exceeds paid amount")
	// ErrRefundNotAllowed is returned when the transaction never collected money.
	ErrRefundNotAllowed = errors.New("payment: transaction is not refundable")
)

// transactionStatusNext lists forward moves. Statuses missing from the map are final.
var transactionStatusNext = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusProcessing, TransactionStatusPaid, TransactionStatusConfirmed,
		TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusExpired,
	},
	TransactionStatusProcessing: {
		TransactionStatusPaid, TransactionStatusConfirmed, TransactionStatusFailed,
		TransactionStatusCancelled, TransactionStatusExpired,
	},
	TransactionStatusPaid:              {TransactionStatusConfirmed, TransactionStatusPartiallyRefunded, TransactionStatusRefunded},
	TransactionStatusConfirmed:         {TransactionStatusPartiallyRefunded, TransactionStatusRefunded},
	TransactionStatusPartiallyRefunded: {TransactionStatusPartiallyRefunded, TransactionStatusRefunded},
}

// ParseTransactionStatus normalises gateway-reported status text.
func ParseTransactionStatus(raw string) (TransactionStatus, bool) {
	status := TransactionStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case TransactionStatusPending, TransactionStatusProcessing, TransactionStatusPaid,
		TransactionStatusConfirmed, TransactionStatusFailed, TransactionStatusCancelled,
		TransactionStatusExpired, TransactionStatusPartiallyRefunded, TransactionStatusRefunded:
		return status, true
	}
	return "", false
}

// ParsePaymentMethod normalises a payment method name.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch method {
	case PaymentMethodCOD, PaymentMethodBankTransfer, PaymentMethodCard, PaymentMethodEWallet, PaymentMethodQRCode:
		return method, true
	}
	return "", false
}

// IsTerminal reports whether gateways consider the attempt settled.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusPaid, TransactionStatusConfirmed, TransactionStatusFailed,
		TransactionStatusCancelled, TransactionStatusExpired, TransactionStatusRefunded:
		return true
	}
	return false
}

// IsSuccessful reports whether money was collected.
func (s TransactionStatus) IsSuccessful() bool {
	return s == TransactionStatusPaid || s == TransactionStatusConfirmed
}

// CanAdvance reports whether a status change moves the attempt forward.
func (s TransactionStatus) CanAdvance(to TransactionStatus) bool {
	return slices.Contains(transactionStatusNext[s], to)
}

// PaymentTransaction is one attempt to move money for an order.
type PaymentTransaction struct {
	ID             uint64
	TransactionRef string
	OrderID        uint64
	Gateway        string
	Method         PaymentMethod
	ExternalID     *string
	Amount         int64
	Fee            int64
	RefundedAmount int64
	Currency       string
	Status         TransactionStatus
	GatewayPayload map[string]any
	FailureReason  string
	ProcessedAt    *time.Time
	CompletedAt    *time.Time
	RefundedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ApplyStatus moves the transaction forward and stamps lifecycle timestamps. It returns false
// when the change would not advance the lifecycle.
func (t *PaymentTransaction) ApplyStatus(status TransactionStatus, now time.Time) bool {
	if !t.Status.CanAdvance(status) {
		return false
	}
	ts := now
	if t.ProcessedAt == nil {
		t.ProcessedAt = &ts
	}
	switch status {
	case TransactionStatusPaid, TransactionStatusConfirmed:
		if t.CompletedAt == nil {
			t.CompletedAt = &ts
		}
	case TransactionStatusRefunded:
		t.RefundedAt = &ts
		t.RefundedAmount = t.Amount
	}
	t.Status = status
	t.UpdatedAt = now
	return true
}

// ApplyRefund records a refund of amount without touching Amount.
func (t *PaymentTransaction) ApplyRefund(amount int64, now time.Time) error {
	if !t.Status.IsSuccessful() && t.Status != TransactionStatusPartiallyRefunded {
		return ErrRefundNotAllowed
	}
	if amount <= 0 || t.RefundedAmount+amount > t.Amount {
		return ErrRefundExceedsAmount
	}
	t.RefundedAmount += amount
	if t.RefundedAmount == t.Amount {
		t.Status = TransactionStatusRefunded
	} else {
		t.Status = TransactionStatusPartiallyRefunded
	}
	ts := now
	t.RefundedAt = &ts
	t.UpdatedAt = now
	return nil
}

// RemainingRefundable returns how much may still be refunded.
func (t PaymentTransaction) RemainingRefundable() int64 {
	return t.Amount - t.RefundedAmount
}

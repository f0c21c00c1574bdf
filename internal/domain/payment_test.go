package domain

import (
	"errors"
	"testing"
	"time"
)

func TestPaymentTransactionApplyStatusNeverRegresses(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	txn := PaymentTransaction{Amount: 100_000, Status: TransactionStatusPending}

	if !txn.ApplyStatus(TransactionStatusPaid, now) {
		t.Fatalf("expected pending -> paid")
	}
	if txn.CompletedAt == nil || txn.ProcessedAt == nil {
		t.Fatalf("expected processed and completed timestamps")
	}
	completed := *txn.CompletedAt

	for _, status := range []TransactionStatus{TransactionStatusPending, TransactionStatusProcessing, TransactionStatusFailed, TransactionStatusPaid} {
		if txn.ApplyStatus(status, now.Add(time.Hour)) {
			t.Fatalf("paid must not move to %s", status)
		}
	}
	if txn.Status != TransactionStatusPaid || !txn.CompletedAt.Equal(completed) {
		t.Fatalf("transaction mutated by rejected status")
	}

	failed := PaymentTransaction{Status: TransactionStatusFailed}
	if failed.ApplyStatus(TransactionStatusPending, now) || failed.ApplyStatus(TransactionStatusPaid, now) {
		t.Fatalf("failed is final")
	}
}

func TestPaymentTransactionApplyRefund(t *testing.T) {
	now := time.Now().UTC()
	txn := PaymentTransaction{Amount: 100_000, Status: TransactionStatusPaid}

	if err := txn.ApplyRefund(40_000, now); err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if txn.Status != TransactionStatusPartiallyRefunded || txn.RefundedAmount != 40_000 || txn.Amount != 100_000 {
		t.Fatalf("unexpected state after partial refund: %+v", txn)
	}
	if err := txn.ApplyRefund(70_000, now); !errors.Is(err, ErrRefundExceedsAmount) {
		t.Fatalf("expected ErrRefundExceedsAmount, got %v", err)
	}
	if err := txn.ApplyRefund(60_000, now); err != nil {
		t.Fatalf("final refund: %v", err)
	}
	if txn.Status != TransactionStatusRefunded || txn.RemainingRefundable() != 0 || txn.RefundedAt == nil {
		t.Fatalf("unexpected state after full refund: %+v", txn)
	}

	pending := PaymentTransaction{Amount: 10, Status: TransactionStatusPending}
	if err := pending.ApplyRefund(10, now); !errors.Is(err, ErrRefundNotAllowed) {
		t.Fatalf("expected ErrRefundNotAllowed, got %v", err)
	}
}

func TestTransactionStatusTerminal(t *testing.T) {
	for _, status := range []TransactionStatus{TransactionStatusPaid, TransactionStatusFailed, TransactionStatusRefunded} {
		if !status.IsTerminal() {
			t.Fatalf("expected %s terminal", status)
		}
	}
	if TransactionStatusPending.IsTerminal() || TransactionStatusPartiallyRefunded.IsTerminal() {
		t.Fatalf("unexpected terminal status")
	}
	if _, ok := ParseTransactionStatus("PAID"); !ok {
		t.Fatalf("expected PAID to parse")
	}
}

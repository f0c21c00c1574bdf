package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
	retryBackoff      = 20 * time.Millisecond
)

// TxFunc is executed within a database transaction. The supplied context carries the
// transaction so repositories called with it join the same unit of work.
type TxFunc func(ctx context.Context, tx *gorm.DB) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts  int
	timeout   time.Duration
	isolation sql.IsolationLevel
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithIsolation overrides the isolation level. Serializable is the default.
func WithIsolation(level sql.IsolationLevel) TxOption {
	return func(cfg *txConfig) {
		cfg.isolation = level
	}
}

type txKey struct{}

// WithTx stores tx on ctx.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (*gorm.DB, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

// Conn returns the transaction on ctx when present, otherwise db bound to ctx.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db.WithContext(ctx)
}

// RunTransaction executes fn within a transaction, re-running it when the database reports
// a serialization failure or deadlock. Nested calls reuse the outer transaction.
func RunTransaction(ctx context.Context, db *gorm.DB, fn TxFunc, opts ...TxOption) error {
	if db == nil {
		return WrapError("transaction", errors.New("database: db is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("database: transaction function is nil"))
	}
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout, isolation: sql.LevelSerializable}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	var err error
	for attempt := 1; attempt <= cfg.attempts; attempt++ {
		var fnErr error
		err = db.WithContext(txnCtx).Transaction(func(tx *gorm.DB) error {
			fnErr = fn(WithTx(txnCtx, tx), tx)
			return fnErr
		}, &sql.TxOptions{Isolation: cfg.isolation})
		if err != nil && (fnErr == nil || !errors.Is(err, fnErr)) {
			// begin or commit failed
			err = WrapError("transaction", err)
		}
		if err == nil || !IsRetryable(err) || attempt == cfg.attempts {
			break
		}
		if sleepErr := sleepContext(txnCtx, time.Duration(attempt)*retryBackoff); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

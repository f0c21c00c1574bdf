package database_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/hanko-field/orderflow/internal/platform/database"
	"github.com/hanko-field/orderflow/internal/platform/database/databasetest"
)

type widget struct {
	ID   uint64 `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
}

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
		retryable   bool
	}{
		{name: "record not found", err: gorm.ErrRecordNotFound, notFound: true},
		{name: "duplicate key", err: gorm.ErrDuplicatedKey, conflict: true},
		{name: "postgres serialization", err: &pgconn.PgError{Code: "40001"}, conflict: true, retryable: true},
		{name: "postgres deadlock", err: fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40P01"}), conflict: true, retryable: true},
		{name: "postgres connection", err: &pgconn.PgError{Code: "08006"}, unavailable: true},
		{name: "mysql deadlock", err: &mysqldriver.MySQLError{Number: 1213}, conflict: true, retryable: true},
		{name: "mysql duplicate", err: &mysqldriver.MySQLError{Number: 1062}, conflict: true},
		{name: "sqlite busy", err: sqlite3.Error{Code: sqlite3.ErrBusy}, conflict: true, retryable: true},
		{name: "sqlite constraint", err: sqlite3.Error{Code: sqlite3.ErrConstraint}, conflict: true},
		{name: "plain", err: errors.New("boom")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := database.WrapError("op", tc.err)
			var dbErr *database.Error
			if !errors.As(wrapped, &dbErr) {
				t.Fatalf("expected *database.Error, got %T", wrapped)
			}
			if dbErr.IsNotFound() != tc.notFound || dbErr.IsConflict() != tc.conflict ||
				dbErr.IsUnavailable() != tc.unavailable || dbErr.IsRetryable() != tc.retryable {
				t.Fatalf("unexpected classification for %v: nf=%v c=%v u=%v r=%v", tc.err,
					dbErr.IsNotFound(), dbErr.IsConflict(), dbErr.IsUnavailable(), dbErr.IsRetryable())
			}
			if !errors.Is(wrapped, tc.err) {
				t.Fatalf("expected wrapped error to unwrap to original")
			}
		})
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := database.WrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var dbErr *database.Error
	if errors.As(database.WrapError("op", context.DeadlineExceeded), &dbErr) {
		t.Fatalf("context errors must not be wrapped")
	}
	if database.WrapError("op", nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestRunTransactionCommitAndRollback(t *testing.T) {
	provider, db := databasetest.Open(t, &widget{})
	ctx := context.Background()

	err := provider.RunTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if _, ok := database.TxFromContext(ctx); !ok {
			t.Fatalf("expected transaction on context")
		}
		return database.Conn(ctx, db).Create(&widget{Name: "kept"}).Error
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	sentinel := errors.New("abort")
	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Create(&widget{Name: "discarded"}).Error; err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	var count int64
	if err := db.Model(&widget{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 committed row, got %d", count)
	}
}

func TestRunTransactionRetriesRetryableErrors(t *testing.T) {
	provider, _ := databasetest.Open(t, &widget{})

	attempts := 0
	err := provider.RunTransaction(context.Background(), func(ctx context.Context, tx *gorm.DB) error {
		attempts++
		if attempts < 3 {
			return database.WrapError("update", &pgconn.PgError{Code: "40001"})
		}
		return nil
	}, database.WithTxAttempts(4))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}

	attempts = 0
	err = provider.RunTransaction(context.Background(), func(ctx context.Context, tx *gorm.DB) error {
		attempts++
		return database.WrapError("update", &pgconn.PgError{Code: "40001"})
	}, database.WithTxAttempts(2))
	if !database.IsRetryable(err) || attempts != 2 {
		t.Fatalf("expected retryable error after 2 attempts, got %v after %d", err, attempts)
	}
}

func TestRunTransactionNestedReusesOuter(t *testing.T) {
	provider, db := databasetest.Open(t, &widget{})
	ctx := context.Background()

	err := provider.RunTransaction(ctx, func(ctx context.Context, outer *gorm.DB) error {
		return database.RunTransaction(ctx, db, func(ctx context.Context, inner *gorm.DB) error {
			if inner != outer {
				t.Fatalf("expected nested call to reuse outer transaction")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("nested transaction: %v", err)
	}
}

func TestUniqueViolationIsConflict(t *testing.T) {
	_, db := databasetest.Open(t, &widget{})
	if err := db.Create(&widget{Name: "dup"}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	err := database.WrapError("create", db.Create(&widget{Name: "dup"}).Error)
	var dbErr *database.Error
	if !errors.As(err, &dbErr) || !dbErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}
}

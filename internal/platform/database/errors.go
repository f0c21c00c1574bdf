package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// Error implements repositories.RepositoryError for gorm backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
	retryable   bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the error represents a constraint or concurrency conflict.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

// IsRetryable reports whether the whole transaction may be re-run.
func (e *Error) IsRetryable() bool {
	return e != nil && e.retryable
}

// NotFound builds a not-found error for lookups that bypass gorm's First semantics.
func NotFound(op string, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), notFound: true}
}

func newError(op string, err error) *Error {
	e := &Error{op: op, err: err}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		e.notFound = true
		return e
	case errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, gorm.ErrForeignKeyViolated),
		errors.Is(err, gorm.ErrCheckConstraintViolated):
		e.conflict = true
		return e
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		e.unavailable = true
		e.retryable = true
		return e
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			e.conflict = true
			e.retryable = true
		case pgErr.Code == "55P03", strings.HasPrefix(pgErr.Code, "23"):
			e.conflict = true
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01", pgErr.Code == "53300":
			e.unavailable = true
		}
		return e
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1213, 1205:
			e.conflict = true
			e.retryable = true
		case 1062, 1451, 1452:
			e.conflict = true
		case 1040, 2002, 2006, 2013:
			e.unavailable = true
		}
		return e
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			e.conflict = true
			e.retryable = true
		case sqlite3.ErrConstraint:
			e.conflict = true
		}
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		e.unavailable = true
	}
	return e
}

// WrapError annotates driver and gorm errors with repository semantics. Context cancellations are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return newError(op, err)
}

// IsRetryable reports whether err carries a retryable database classification.
func IsRetryable(err error) bool {
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return repoErr.IsRetryable()
	}
	return false
}

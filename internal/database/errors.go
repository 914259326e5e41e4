package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

const uniqueViolation = "23505"

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		}
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err carries a unique constraint failure,
// optionally restricted to one constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// DatabaseError is the only shape in which persistence failures leave the
// store package. Code is the SQLSTATE when the driver reported one.
type DatabaseError struct {
	Table string
	Op    string
	Code  string
	Err   error
}

func (e *DatabaseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("database: %s %s failed (sqlstate %s): %v", e.Op, e.Table, e.Code, e.Err)
	}
	return fmt.Sprintf("database: %s %s failed: %v", e.Op, e.Table, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// Wrap converts a driver error into a DatabaseError. Errors that are already
// DatabaseErrors pass through unchanged.
func Wrap(table, op string, err error) error {
	if err == nil {
		return nil
	}

	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return err
	}

	wrapped := &DatabaseError{Table: table, Op: op, Err: err}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		wrapped.Code = string(pqErr.Code)
	}
	return wrapped
}

func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrProductNotFound    = errors.New("product not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrCouponNotFound     = errors.New("coupon not found")
	ErrUserCouponNotFound = errors.New("user coupon not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrStatusConflict     = errors.New("order status changed concurrently")
)

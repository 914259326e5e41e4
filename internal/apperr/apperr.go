// Package apperr holds the error taxonomy shared by the order engine and the
// translation of those errors into caller-safe messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/safar/go-order-engine/internal/database"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientInventoryError unwraps to database.ErrInsufficientStock.
type InsufficientInventoryError struct {
	ProductID int64
	Requested int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for product %d (requested %d)", e.ProductID, e.Requested)
}

func (e *InsufficientInventoryError) Unwrap() error {
	return database.ErrInsufficientStock
}

type InvalidStatusTransitionError struct {
	OrderID int64
	From    string
	To      string
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("order %d: invalid status transition %s -> %s", e.OrderID, e.From, e.To)
}

type CouponReason string

const (
	CouponNotFound      CouponReason = "not_found"
	CouponNotYetValid   CouponReason = "not_yet_valid"
	CouponExpired       CouponReason = "expired"
	CouponBelowMinimum  CouponReason = "below_minimum"
	CouponUsageExceeded CouponReason = "usage_limit_exceeded"
	CouponNotOwned      CouponReason = "not_owned"
	CouponAlreadyUsed   CouponReason = "already_used"
)

type CouponNotAvailableError struct {
	Code   string
	Reason CouponReason
}

func (e *CouponNotAvailableError) Error() string {
	return fmt.Sprintf("coupon %q not available: %s", e.Code, e.Reason)
}

// NotFoundError unwraps to the store sentinel it was built from.
type NotFoundError struct {
	Entity string
	ID     any
	Err    error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

func NotFound(entity string, id any, sentinel error) error {
	return &NotFoundError{Entity: entity, ID: id, Err: sentinel}
}

// Permanent reports whether retrying the operation cannot succeed.
func Permanent(err error) bool {
	var (
		validation *ValidationError
		inventory  *InsufficientInventoryError
		transition *InvalidStatusTransitionError
		coupon     *CouponNotAvailableError
		notFound   *NotFoundError
	)
	switch {
	case errors.As(err, &validation),
		errors.As(err, &inventory),
		errors.As(err, &transition),
		errors.As(err, &coupon),
		errors.As(err, &notFound):
		return true
	}
	return false
}

// PublicMessage maps err to an HTTP status and a message safe to show a
// caller. Internal detail such as SQL state never appears in the message.
func PublicMessage(err error) (int, string) {
	var (
		validation *ValidationError
		inventory  *InsufficientInventoryError
		transition *InvalidStatusTransitionError
		coupon     *CouponNotAvailableError
		notFound   *NotFoundError
	)
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.As(err, &validation):
		return http.StatusBadRequest, "The request is invalid: " + validation.Message
	case errors.As(err, &inventory):
		return http.StatusConflict, "Some items are out of stock."
	case errors.As(err, &transition):
		return http.StatusConflict, "The order cannot be changed in its current status."
	case errors.As(err, &coupon):
		return http.StatusUnprocessableEntity, couponMessages[coupon.Reason]
	case errors.As(err, &notFound):
		return http.StatusNotFound, "The requested " + notFound.Entity + " was not found."
	case errors.Is(err, database.ErrStatusConflict):
		return http.StatusConflict, "The order was updated by someone else. Please retry."
	default:
		return http.StatusInternalServerError, "Something went wrong. Please try again later."
	}
}

var couponMessages = map[CouponReason]string{
	CouponNotFound:      "This coupon does not exist.",
	CouponNotYetValid:   "This coupon is not valid yet.",
	CouponExpired:       "This coupon has expired.",
	CouponBelowMinimum:  "The order does not meet the coupon's minimum purchase.",
	CouponUsageExceeded: "This coupon has reached its usage limit.",
	CouponNotOwned:      "You do not own this coupon.",
	CouponAlreadyUsed:   "This coupon has already been used.",
}

package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConflictData        = errors.New("data conflicts with existing data")
	ErrDataNotFound        = errors.New("data not found")
	ErrInvalidCredentials  = errors.New("invalid login or password")
	ErrInvalidTransition   = errors.New("invalid order state transition")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrUserBanned          = errors.New("user is banned")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrActiveInvoiceExists = errors.New("order already has an active invoice")
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrInternalError       = errors.New("internal error")
)

// InsufficientStockError reports a failed reservation: fewer free units
// of a position than the checkout requested. The whole reservation is
// rolled back; nothing is held.
type InsufficientStockError struct {
	Name      string
	Requested int
	Available int
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d", e.Name, e.Requested, e.Available)
}

// TooManyRequestsError is returned when the payment gateway throttles
// invoice creation and asks to retry later.
type TooManyRequestsError struct {
	RetryAfter time.Duration
}

// NewTooManyRequestsError creates TooManyRequestsError with retry-after duration
func NewTooManyRequestsError(d time.Duration) TooManyRequestsError {
	return TooManyRequestsError{RetryAfter: d}
}

func (e TooManyRequestsError) Error() string {
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter)
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentResult is the reconciler's classification of a payment event.
type PaymentResult string

const (
	PaymentResultExact            PaymentResult = "exact"
	PaymentResultOverpayment      PaymentResult = "overpayment"
	PaymentResultUnderpayment     PaymentResult = "underpayment"
	PaymentResultStale            PaymentResult = "stale"
	PaymentResultCurrencyMismatch PaymentResult = "currency_mismatch"
)

// Funded reports whether the event carried money the shop actually
// received, i.e. whether its fiat value counts toward refunds.
func (r PaymentResult) Funded() bool {
	switch r {
	case PaymentResultExact, PaymentResultOverpayment, PaymentResultUnderpayment:
		return true
	case PaymentResultStale, PaymentResultCurrencyMismatch:
		return false
	}
	return false
}

// PaymentTransaction is one row of the append-only payment audit trail.
// Every event that reaches the reconciler is recorded, including stale
// duplicates and rejected ones; rows are immutable except for the
// PenaltyApplied marker set when a later refund withholds a penalty.
type PaymentTransaction struct {
	ID      int64
	OrderID int64
	// InvoiceID is zero when the event matched no known invoice.
	InvoiceID      int64
	PaymentID      string
	AmountPaid     decimal.Decimal
	AmountRequired decimal.Decimal
	FiatAmount     decimal.Decimal
	Currency       string
	Result         PaymentResult
	IsUnderpayment bool
	IsOverpayment  bool
	PenaltyApplied bool
	CreatedAt      time.Time
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxInvoiceAttempts bounds payment attempts per order: the initial
// invoice plus exactly one retry after a first underpayment.
const MaxInvoiceAttempts = 2

// Invoice is a payment request issued to the external gateway for one
// order. An invoice is never deleted; IsActive is cleared when it is
// paid, superseded by a retry, cancelled or timed out, so the full
// payment history stays auditable. At most one invoice per order is
// active at any time.
type Invoice struct {
	ID      int64
	OrderID int64
	// PaymentID is the gateway-side identifier delivered back in webhooks.
	PaymentID string
	// Amount is the requested crypto amount in Currency.
	Amount   decimal.Decimal
	Currency string
	// FiatAmount is the fiat value the invoice covers.
	FiatAmount decimal.Decimal
	// PayURL is where the storefront sends the user to pay.
	PayURL    string
	IsActive  bool
	Attempt   int
	CreatedAt time.Time
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order. Transitions between
// statuses happen only inside the order service; every switch over
// OrderStatus enumerates all states so adding a state breaks unhandled
// sites at compile time.
type OrderStatus string

const (
	// OrderStatusPendingPaymentAndAddress waits for a shipping address
	// before payment can be requested. Entered only by orders carrying
	// physical items.
	OrderStatusPendingPaymentAndAddress OrderStatus = "PENDING_PAYMENT_AND_ADDRESS"
	// OrderStatusPendingPayment waits for the first payment.
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	// OrderStatusPendingPaymentPartial waits for the retry invoice issued
	// after a first underpayment.
	OrderStatusPendingPaymentPartial OrderStatus = "PENDING_PAYMENT_PARTIAL"
	// OrderStatusPaid is terminal for digital-only orders.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusPaidAwaitingShipment is a paid order with physical items
	// not yet shipped.
	OrderStatusPaidAwaitingShipment OrderStatus = "PAID_AWAITING_SHIPMENT"
	OrderStatusShipped              OrderStatus = "SHIPPED"
	OrderStatusTimeout              OrderStatus = "TIMEOUT"
	OrderStatusCancelledByUser      OrderStatus = "CANCELLED_BY_USER"
	OrderStatusCancelledByAdmin     OrderStatus = "CANCELLED_BY_ADMIN"
	OrderStatusCancelledBySystem    OrderStatus = "CANCELLED_BY_SYSTEM"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusShipped, OrderStatusTimeout,
		OrderStatusCancelledByUser, OrderStatusCancelledByAdmin, OrderStatusCancelledBySystem:
		return true
	case OrderStatusPendingPaymentAndAddress, OrderStatusPendingPayment,
		OrderStatusPendingPaymentPartial, OrderStatusPaidAwaitingShipment:
		return false
	}
	return false
}

// PaymentPending reports whether the order is still waiting to be paid:
// user cancellation and the expiry sweep may move it. Payment events
// apply only to the subset of these states that can hold an invoice.
func (s OrderStatus) PaymentPending() bool {
	switch s {
	case OrderStatusPendingPaymentAndAddress, OrderStatusPendingPayment, OrderStatusPendingPaymentPartial:
		return true
	case OrderStatusPaid, OrderStatusPaidAwaitingShipment,
		OrderStatusShipped, OrderStatusTimeout, OrderStatusCancelledByUser,
		OrderStatusCancelledByAdmin, OrderStatusCancelledBySystem:
		return false
	}
	return false
}

// Refund is the breakdown of money returned to the wallet when an order
// terminates without shipment.
type Refund struct {
	// Wallet is the wallet portion returned, after any penalty.
	Wallet decimal.Decimal
	// Gateway is the fiat value of received gateway payments credited back.
	Gateway decimal.Decimal
	// Penalty is the amount withheld from the wallet portion.
	Penalty decimal.Decimal
}

// OrderLine is one (position, quantity) entry of an order, priced at the
// unit price of the reserved items.
type OrderLine struct {
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
	IsPhysical bool
}

// Order is order entity
type Order struct {
	ID             int64
	UserID         int64
	Status         OrderStatus
	Lines          []OrderLine
	Total          decimal.Decimal
	WalletPortion  decimal.Decimal
	Address        string
	CancelReason   string
	Refund         *Refund
	ExpiryExtended bool
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// HasPhysical reports whether any line needs shipping.
func (o *Order) HasPhysical() bool {
	for _, l := range o.Lines {
		if l.IsPhysical {
			return true
		}
	}
	return false
}

// Remaining is the fiat amount still unpaid after the wallet portion.
func (o *Order) Remaining() decimal.Decimal {
	return o.Total.Sub(o.WalletPortion)
}

// Expired reports whether the order deadline has passed at t.
func (o *Order) Expired(t time.Time) bool {
	return t.After(o.ExpiresAt)
}

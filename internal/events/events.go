// Package events carries notification intents out of the reconciliation
// core. The core never formats user-facing text: it publishes structured
// events and the messaging front-end renders them.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types consumed by the notification layer.
const (
	OrderCreated           = "order.created"
	OrderAwaitingAddress   = "order.awaiting_address"
	OrderPaid              = "order.paid"
	OrderShipped           = "order.shipped"
	OrderTimeout           = "order.timeout"
	OrderCancelled         = "order.cancelled"
	OrderUnderpaymentRetry = "order.underpayment_retry"
	WalletCredited         = "wallet.credited"
	UserBanned             = "user.banned"
	UserUnbanned           = "user.unbanned"
)

// Event is a single notification intent
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	UserID     int64           `json:"user_id"`
	OrderID    int64           `json:"order_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// New creates an event with a fresh id and timestamp
func New(eventType string, userID, orderID int64) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now(),
		UserID:     userID,
		OrderID:    orderID,
	}
}

// Publisher delivers notification intents to the messaging front-end
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

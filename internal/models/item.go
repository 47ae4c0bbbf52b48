package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a single sellable unit. Units sharing a Name form the stock of
// one storefront position; a reservation binds concrete unit rows to an
// order, so a unit is held by at most one active order, and IsSold never
// reverts once set.
type Item struct {
	ID         int64
	Name       string
	Category   string
	Price      decimal.Decimal
	IsPhysical bool
	IsReserved bool
	IsSold     bool
	// OrderID is the order holding the current reservation, zero when free.
	OrderID int64
	// Payload is the digital content handed to the delivery layer on sale.
	Payload   string
	CreatedAt time.Time
}

// StockIntake is one batch of units loaded into a position. Digital
// positions carry one payload per unit; physical positions carry a bare
// quantity.
type StockIntake struct {
	Name       string
	Category   string
	Price      decimal.Decimal
	IsPhysical bool
	Quantity   int
	Payloads   []string
}

// Delivery links a sold item to the order it must be delivered for. The
// external delivery layer consumes these records; the core only writes
// them when an order becomes paid.
type Delivery struct {
	ID        int64
	OrderID   int64
	ItemID    int64
	CreatedAt time.Time
}

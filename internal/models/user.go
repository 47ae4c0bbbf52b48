package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a storefront customer: a prepaid wallet balance plus the
// violation ledger. The ID comes from the messenger identity supplied by
// the storefront layer; rows are created lazily on first contact.
// Balance is kept at fiat precision and never goes negative.
type User struct {
	ID       int64
	Balance  decimal.Decimal
	Strikes  int
	IsBanned bool
	// IsExempt users (administrators) accumulate strikes but are never banned.
	IsExempt  bool
	CreatedAt time.Time
}

// Admin is an API operator account.
type Admin struct {
	ID           int64
	Login        string
	PasswordHash string
	CreatedAt    time.Time
}

// TokenPayload is the verified content of an auth token.
type TokenPayload struct {
	AdminID int64
	Login   string
}

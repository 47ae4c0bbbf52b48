package models

import "github.com/shopspring/decimal"

// Fiat amounts are stored and mutated at 2 decimal places, crypto
// amounts at 8.
const (
	FiatPlaces   = 2
	CryptoPlaces = 8
)

// RoundFiat rounds d to the fixed fiat precision. Every wallet mutation
// and every fiat amount written to storage goes through this.
func RoundFiat(d decimal.Decimal) decimal.Decimal {
	return d.Round(FiatPlaces)
}

// RoundCrypto rounds d to the fixed crypto precision.
func RoundCrypto(d decimal.Decimal) decimal.Decimal {
	return d.Round(CryptoPlaces)
}

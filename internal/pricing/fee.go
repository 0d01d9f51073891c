// Package pricing computes the platform/designer split of a design sale.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PlatformFeeRate is the fixed share of every sale kept by the platform (10%).
var PlatformFeeRate = decimal.RequireFromString("0.10")

// MaxPrice is the highest price a design may be listed at.
var MaxPrice = decimal.RequireFromString("10000.00")

// MinPrice is the lowest price a design may be listed at.
var MinPrice = decimal.RequireFromString("0.01")

// Split is the fee breakdown of a single sale. PlatformFee + DesignerEarnings == Amount always holds.
type Split struct {
	Amount           decimal.Decimal
	PlatformFee      decimal.Decimal
	DesignerEarnings decimal.Decimal
}

// SplitPrice rounds the fee half-up to cents and gives the designer the remainder, so the two
// parts sum to the price exactly.
func SplitPrice(price decimal.Decimal) (Split, error) {
	if !price.IsPositive() {
		return Split{}, fmt.Errorf("price must be positive, got %s", price.StringFixed(2))
	}
	amount := price.Round(2)
	fee := amount.Mul(PlatformFeeRate).Round(2)
	return Split{
		Amount:           amount,
		PlatformFee:      fee,
		DesignerEarnings: amount.Sub(fee),
	}, nil
}

// ToCents converts a USD amount to the provider's minor units.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromCents converts provider minor units back to a USD amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Consistent reports whether fee and earnings add up to amount to the cent.
func Consistent(amount, fee, earnings decimal.Decimal) bool {
	return fee.Add(earnings).Round(2).Equal(amount.Round(2))
}

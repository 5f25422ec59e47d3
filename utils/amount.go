// Package utils holds the monetary arithmetic for the checkout flow. All
// amounts stay integer cents or integer smallest units; division happens
// only at the presentation boundary and never through floating point.
package utils

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// taxRate is the demo storefront's flat sales tax.
var taxRate = decimal.NewFromFloat(0.0825)

// defaultBufferPct pads the authorized total over the cart total so small
// price drift between quote and settlement does not fail the payment.
var defaultBufferPct = decimal.NewFromFloat(0.05)

// Line is one cart line feeding the invoice total.
type Line struct {
	PriceCents int64
	Quantity   int64
}

// CartTotals computes subtotal, tax and total in cents.
func CartTotals(lines []Line) (subtotalCents, taxCents, totalCents int64) {
	for _, line := range lines {
		subtotalCents += line.PriceCents * line.Quantity
	}
	tax := decimal.NewFromInt(subtotalCents).Mul(taxRate).Round(0)
	taxCents = tax.IntPart()
	totalCents = subtotalCents + taxCents
	return subtotalCents, taxCents, totalCents
}

// BufferAmount pads cents by the default 5% buffer.
func BufferAmount(cents int64) int64 {
	buffered := decimal.NewFromInt(cents).Mul(defaultBufferPct.Add(decimal.NewFromInt(1))).Round(0)
	return buffered.IntPart()
}

// CentsToUSD renders cents as an exact dollar string ("1234" -> "12.34").
func CentsToUSD(cents int64) string {
	negative := cents < 0
	absolute := cents
	if negative {
		absolute = -cents
	}
	value := fmt.Sprintf("%d.%02d", absolute/100, absolute%100)
	if negative {
		return "-" + value
	}
	return value
}

// USDToCents parses a dollar string into cents, rejecting sub-cent
// precision.
func USDToCents(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %q has sub-cent precision", s)
	}
	return cents.IntPart(), nil
}

// CentsToTokenUnits converts USD cents into smallest token units at the
// given decimals, assuming a dollar-pegged token. The conversion is exact;
// sub-unit remainders are an error rather than a silent truncation.
func CentsToTokenUnits(cents int64, decimals int) (*big.Int, error) {
	units := decimal.NewFromInt(cents).Shift(int32(decimals) - 2)
	if !units.IsInteger() {
		return nil, fmt.Errorf("cents %d do not convert exactly at %d decimals", cents, decimals)
	}
	return units.BigInt(), nil
}

// EncodeAmountHex renders an integer amount as lowercase minimal hex.
func EncodeAmountHex(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0x0"
	}
	return hexutil.EncodeBig(v)
}

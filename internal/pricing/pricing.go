// Package pricing computes what a buyer is charged for a course.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// zeroDecimal lists ISO 4217 currencies whose gateways accept whole units only.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "IDR": true,
	"JPY": true, "KMF": true, "KRW": true, "MGA": true, "PYG": true,
	"RWF": true, "UGX": true, "VND": true, "VUV": true, "XAF": true,
	"XOF": true, "XPF": true,
}

// Exponent returns the number of decimal places charged in currency.
func Exponent(currency string) int32 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// ChargedAmount returns price * (1 - discount/100) rounded to the smallest
// unit the currency is charged in. Discounts outside 0..100 are clamped.
func ChargedAmount(price decimal.Decimal, discount int, currency string) decimal.Decimal {
	if discount < 0 {
		discount = 0
	}
	if discount > 100 {
		discount = 100
	}

	factor := hundred.Sub(decimal.NewFromInt(int64(discount))).Div(hundred)
	return price.Mul(factor).Round(Exponent(currency))
}

// MinorUnits converts an amount to the smallest unit of currency, cents for
// USD and whole yen for JPY.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(Exponent(currency)).Round(0).IntPart()
}

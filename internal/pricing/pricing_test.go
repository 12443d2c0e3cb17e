package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestChargedAmount(t *testing.T) {
	tests := []struct {
		price    string
		discount int
		currency string
		want     string
	}{
		{"100", 20, "USD", "80.00"},
		{"50", 0, "usd", "50.00"},
		{"49.99", 15, "USD", "42.49"},
		{"19.99", 100, "USD", "0.00"},
		{"10", -5, "EUR", "10.00"},
		{"10", 150, "USD", "0.00"},
		{"187499.50", 20, "IDR", "150000"},
		{"999", 15, "JPY", "849"},
	}

	for _, tt := range tests {
		got := ChargedAmount(decimal.RequireFromString(tt.price), tt.discount, tt.currency)
		want := decimal.RequireFromString(tt.want)
		if !got.Equal(want) {
			t.Errorf("ChargedAmount(%s, %d, %s): expected %s, got %s", tt.price, tt.discount, tt.currency, want, got)
		}
	}
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     int64
	}{
		{"80.00", "USD", 8000},
		{"42.49", "usd", 4249},
		{"849", "JPY", 849},
		{"150000", "IDR", 150000},
	}

	for _, tt := range tests {
		if got := MinorUnits(decimal.RequireFromString(tt.amount), tt.currency); got != tt.want {
			t.Errorf("MinorUnits(%s, %s): expected %d, got %d", tt.amount, tt.currency, tt.want, got)
		}
	}
}

func TestChargedAmountMatchesMinorUnits(t *testing.T) {
	for _, currency := range []string{"USD", "IDR", "JPY"} {
		charged := ChargedAmount(decimal.RequireFromString("187499.50"), 20, currency)
		back := decimal.New(MinorUnits(charged, currency), -Exponent(currency))
		if !back.Equal(charged) {
			t.Errorf("%s: stored %s but gateway would charge %s", currency, charged, back)
		}
	}
}

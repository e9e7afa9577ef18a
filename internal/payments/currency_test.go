package payments

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseCurrencyResolvesScale(t *testing.T) {
	cases := map[string]int{"EUR": 2, "eur": 2, "JPY": 0, "DKK": 2}
	for code, want := range cases {
		cur, err := ParseCurrency(code)
		if err != nil {
			t.Fatalf("%s: %v", code, err)
		}
		if cur.Scale != want {
			t.Fatalf("%s: expected scale %d, got %d", code, want, cur.Scale)
		}
	}
	if _, err := ParseCurrency("XYZ1"); err == nil {
		t.Fatalf("expected invalid currency error")
	}
}

func TestCurrencyConversions(t *testing.T) {
	eur := Currency{Code: "EUR", Scale: 2}
	if got := eur.Minor(decimal.NewFromFloat(10.1)); got != 1010 {
		t.Fatalf("expected 1010, got %d", got)
	}
	jpy := Currency{Code: "JPY", Scale: 0}
	if got := jpy.Minor(decimal.NewFromFloat(500)); got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
}

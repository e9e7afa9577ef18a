package payments

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Currency pairs an ISO 4217 code with the number of minor-unit digits.
type Currency struct {
	Code  string
	Scale int
}

// ParseCurrency validates an ISO 4217 code and resolves its minor-unit scale.
func ParseCurrency(code string) (Currency, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return Currency{}, fmt.Errorf("payments: invalid currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return Currency{Code: unit.String(), Scale: scale}, nil
}

// Minor converts a major-unit amount to minor units, rounding half away from zero.
func (c Currency) Minor(major decimal.Decimal) int64 {
	return major.Shift(int32(c.Scale)).Round(0).IntPart()
}

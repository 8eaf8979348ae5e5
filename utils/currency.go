package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Quantities and prices are two-decimal fixed point.
const Places int32 = 2

func init() {
	// Services exchange numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Round2 rounds d half away from zero to two decimals.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// FormatCurrency renders amount with thousand separators and two decimals,
// e.g. 15000.5 -> "15.000,50".
func FormatCurrency(amount decimal.Decimal) string {
	formatted := Round2(amount).StringFixed(Places)

	negative := strings.HasPrefix(formatted, "-")
	formatted = strings.TrimPrefix(formatted, "-")

	parts := strings.SplitN(formatted, ".", 2)
	integerPart := parts[0]
	decimalPart := parts[1]

	var result []string
	for i := len(integerPart); i > 0; i -= 3 {
		start := i - 3
		if start < 0 {
			start = 0
		}
		result = append([]string{integerPart[start:i]}, result...)
	}

	out := strings.Join(result, ".") + "," + decimalPart
	if negative {
		out = "-" + out
	}
	return out
}

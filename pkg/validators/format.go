package validators

import (
	"strings"

	"cosmossdk.io/math"
)

// maxDecimals is the precision limit of math.LegacyDec.
const maxDecimals = math.LegacyPrecision

// FormatBalance renders a planck amount as a decimal token amount, e.g.
// 15000000000 with 10 decimals and unit "DOT" becomes "1.5 DOT".
// Trailing zeros of the fraction are dropped.
func FormatBalance(amount Amount, decimals uint8, unit string) string {
	var s string
	if decimals == 0 {
		s = amount.String()
	} else if v, ok := amount.Int(); ok && int(decimals) <= maxDecimals {
		s = trimFraction(math.LegacyNewDecFromIntWithPrec(v, int64(decimals)).String())
	} else {
		s = shiftDecimal(amount.String(), int(decimals))
	}

	if unit == "" {
		return s
	}
	return s + " " + unit
}

// shiftDecimal places the decimal point by hand for precisions above what
// LegacyDec supports.
func shiftDecimal(digits string, decimals int) string {
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	point := len(digits) - decimals
	out := trimFraction(digits[:point] + "." + digits[point:])
	if neg {
		return "-" + out
	}
	return out
}

func trimFraction(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

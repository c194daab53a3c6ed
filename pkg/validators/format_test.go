package validators

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBalance(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals uint8
		unit     string
		expected string
	}{
		{"zero", "0", 10, "DOT", "0 DOT"},
		{"one and a half", "15000000000", 10, "DOT", "1.5 DOT"},
		{"sub unit", "1", 12, "KSM", "0.000000000001 KSM"},
		{"no decimals", "123", 0, "", "123"},
		{"above dec precision", "15", 20, "", "0.00000000000000000015"},
		{"large", "340282366920938463463374607431768211455", 10, "DOT", "34028236692093846346337460743.1768211455 DOT"},
		{"above 256 bits", "1" + strings.Repeat("0", 80), 10, "DOT", "1" + strings.Repeat("0", 70) + " DOT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, ok := ParseAmount(tt.amount)
			if !ok {
				t.Fatalf("bad amount %s", tt.amount)
			}
			assert.Equal(t, tt.expected, FormatBalance(amount, tt.decimals, tt.unit))
		})
	}
}

func TestFormatBalance_NilAmount(t *testing.T) {
	assert.Equal(t, "0 DOT", FormatBalance(Amount{}, 10, "DOT"))
}

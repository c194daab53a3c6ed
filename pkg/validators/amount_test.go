package validators

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"empty is zero", "", "0", true},
		{"spaces", " 42 ", "42", true},
		{"u128 max", "340282366920938463463374607431768211455", "340282366920938463463374607431768211455", true},
		{"wider than 256 bits", "1" + strings.Repeat("0", 90), "1" + strings.Repeat("0", 90), true},
		{"negative", "-1", "", false},
		{"negative wide", "-1" + strings.Repeat("0", 90), "", false},
		{"fraction", "1.5", "", false},
		{"garbage", "abc", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseAmount(tt.input)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestAmount_Arithmetic(t *testing.T) {
	var zero Amount
	assert.True(t, zero.IsZero())
	assert.Equal(t, "0", zero.String())

	a, _ := ParseAmount("5")
	b, _ := ParseAmount("7")
	sum := a.Add(b)

	assert.Equal(t, "12", sum.String())
	assert.Equal(t, "5", a.String(), "operands are not modified")
	assert.True(t, sum.GT(b))
	assert.False(t, b.GT(sum))
	assert.True(t, zero.Add(a).Equal(a))

	v, fits := sum.Int()
	require.True(t, fits)
	assert.Equal(t, "12", v.String())

	copied := sum.BigInt()
	copied.SetInt64(99)
	assert.Equal(t, "12", sum.String())
}

package validators

import (
	"math/big"
	"strings"

	"cosmossdk.io/math"
)

// Amount is a non-negative planck balance with no upper bound. The zero
// value is zero. Amounts are immutable; Add returns a new value.
type Amount struct {
	i *big.Int
}

// ZeroAmount returns a zero balance.
func ZeroAmount() Amount {
	return Amount{}
}

// NewAmount copies a non-negative big integer. Negative or nil values give zero.
func NewAmount(v *big.Int) Amount {
	if v == nil || v.Sign() <= 0 {
		return Amount{}
	}
	return Amount{i: new(big.Int).Set(v)}
}

// ParseAmount parses a non-negative decimal integer of any size. Empty
// strings are zero, matching how the API reports nominations with nothing
// bonded yet.
func ParseAmount(s string) (Amount, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, true
	}
	// common case: anything that fits math.Int
	if v, ok := math.NewIntFromString(s); ok {
		if v.IsNegative() {
			return Amount{}, false
		}
		return NewAmount(v.BigInt()), true
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return Amount{}, false
	}
	return NewAmount(v), true
}

func (a Amount) big() *big.Int {
	if a.i == nil {
		return new(big.Int)
	}
	return a.i
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	switch {
	case b.IsZero():
		return a
	case a.IsZero():
		return b
	}
	return Amount{i: new(big.Int).Add(a.i, b.i)}
}

// IsZero reports whether the balance is zero.
func (a Amount) IsZero() bool {
	return a.i == nil || a.i.Sign() == 0
}

// Cmp compares a and b like big.Int.Cmp.
func (a Amount) Cmp(b Amount) int {
	return a.big().Cmp(b.big())
}

// Equal reports whether a == b.
func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// GT reports whether a > b.
func (a Amount) GT(b Amount) bool {
	return a.Cmp(b) > 0
}

// BigInt returns a copy of the balance.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(a.big())
}

// Int converts to math.Int when the balance fits in its 256 bits.
func (a Amount) Int() (math.Int, bool) {
	if a.big().BitLen() > math.MaxBitLen {
		return math.Int{}, false
	}
	return math.NewIntFromBigInt(a.big()), true
}

// String returns the decimal digits.
func (a Amount) String() string {
	return a.big().String()
}

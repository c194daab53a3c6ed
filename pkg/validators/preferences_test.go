package validators

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeScalePrefs(t *testing.T) {
	tests := []struct {
		name      string
		hex       string
		expected  ValidatorPrefs
		expectErr bool
	}{
		{name: "zero commission, no blocked flag", hex: "0x00", expected: ValidatorPrefs{}},
		{name: "ten percent, legacy layout", hex: "0x0284d717", expected: ValidatorPrefs{Commission: 100_000_000}},
		{name: "ten percent, not blocked", hex: "0x0284d71700", expected: ValidatorPrefs{Commission: 100_000_000}},
		{name: "five percent, blocked", hex: "0x02c2eb0b01", expected: ValidatorPrefs{Commission: 50_000_000, Blocked: true}},
		{name: "without 0x prefix", hex: "04", expected: ValidatorPrefs{Commission: 1}},
		{name: "empty", hex: "0x", expectErr: true},
		{name: "bad hex", hex: "0xzz", expectErr: true},
		{name: "invalid blocked flag", hex: "0x0007", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefs, err := DecodeScalePrefs(tt.hex)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, prefs)
		})
	}
}

func TestPreferences_Decode(t *testing.T) {
	t.Run("hex string", func(t *testing.T) {
		p := newPreferences(json.RawMessage(`"0x0284d717"`))
		prefs, err := p.Decode()
		require.NoError(t, err)
		assert.Equal(t, "10.00%", prefs.CommissionPercent())
	})

	t.Run("json object", func(t *testing.T) {
		p := newPreferences(json.RawMessage(`{"commission": 12345678, "blocked": true}`))
		prefs, err := p.Decode()
		require.NoError(t, err)
		assert.Equal(t, uint32(12345678), prefs.Commission)
		assert.True(t, prefs.Blocked)
		assert.Equal(t, "1.23%", prefs.CommissionPercent())
	})

	t.Run("commission above one hundred percent", func(t *testing.T) {
		p := newPreferences(json.RawMessage(`{"commission": 1000000001}`))
		_, err := p.Decode()
		assert.Error(t, err)
	})

	t.Run("unsupported encoding", func(t *testing.T) {
		p := newPreferences(json.RawMessage(`42`))
		_, err := p.Decode()
		assert.Error(t, err)
	})

	t.Run("nil preferences", func(t *testing.T) {
		var p *Preferences
		_, err := p.Decode()
		assert.ErrorIs(t, err, ErrEmptyPreferences)
	})
}

func TestNewPreferences_Absent(t *testing.T) {
	assert.Nil(t, newPreferences(nil))
	assert.Nil(t, newPreferences(json.RawMessage("")))
	assert.Nil(t, newPreferences(json.RawMessage(" null ")))
}

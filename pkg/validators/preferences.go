package validators

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
)

// perbillOne is 100% expressed in parts per billion.
const perbillOne = 1_000_000_000

// ErrEmptyPreferences is returned when decoding preferences with no payload.
var ErrEmptyPreferences = errors.New("empty validator preferences")

// Preferences wraps the opaque preference payload of a validator record.
type Preferences struct {
	Raw json.RawMessage
}

// ValidatorPrefs is the decoded form of a validator's staking preferences.
// Commission is in parts per billion (Perbill).
type ValidatorPrefs struct {
	Commission uint32 `json:"commission"`
	Blocked    bool   `json:"blocked"`
}

// CommissionPercent renders the commission as a percentage with two decimals.
func (p ValidatorPrefs) CommissionPercent() string {
	whole := p.Commission / 10_000_000
	frac := (p.Commission % 10_000_000) / 100_000
	return fmt.Sprintf("%d.%02d%%", whole, frac)
}

func newPreferences(raw json.RawMessage) *Preferences {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	cp := make(json.RawMessage, len(trimmed))
	copy(cp, trimmed)
	return &Preferences{Raw: cp}
}

// Decode interprets the payload. Two encodings are accepted: a JSON string
// holding hex encoded SCALE bytes of the runtime ValidatorPrefs, or a JSON
// object {"commission": <perbill>, "blocked": <bool>}.
func (p *Preferences) Decode() (ValidatorPrefs, error) {
	if p == nil || len(p.Raw) == 0 {
		return ValidatorPrefs{}, ErrEmptyPreferences
	}

	switch p.Raw[0] {
	case '"':
		var hexStr string
		if err := json.Unmarshal(p.Raw, &hexStr); err != nil {
			return ValidatorPrefs{}, fmt.Errorf("unmarshal preferences string: %w", err)
		}
		return DecodeScalePrefs(hexStr)
	case '{':
		var obj struct {
			Commission json.Number `json:"commission"`
			Blocked    bool        `json:"blocked"`
		}
		dec := json.NewDecoder(bytes.NewReader(p.Raw))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil {
			return ValidatorPrefs{}, fmt.Errorf("unmarshal preferences object: %w", err)
		}
		commission, err := obj.Commission.Int64()
		if err != nil || commission < 0 || commission > perbillOne {
			return ValidatorPrefs{}, fmt.Errorf("commission out of range: %q", obj.Commission)
		}
		return ValidatorPrefs{Commission: uint32(commission), Blocked: obj.Blocked}, nil
	default:
		return ValidatorPrefs{}, fmt.Errorf("unsupported preferences encoding: %.16s", string(p.Raw))
	}
}

// DecodeScalePrefs decodes hex encoded SCALE ValidatorPrefs: a compact
// Perbill commission, optionally followed by the blocked flag (runtimes
// before the flag existed only carry the commission).
func DecodeScalePrefs(hexStr string) (ValidatorPrefs, error) {
	hexStr = strings.TrimSpace(hexStr)
	if hexStr == "" || hexStr == "0x" {
		return ValidatorPrefs{}, ErrEmptyPreferences
	}
	if !strings.HasPrefix(hexStr, "0x") {
		hexStr = "0x" + hexStr
	}
	bz, err := codec.HexDecodeString(hexStr)
	if err != nil {
		return ValidatorPrefs{}, fmt.Errorf("hex decode preferences: %w", err)
	}

	decoder := scale.NewDecoder(bytes.NewReader(bz))
	commission, err := decoder.DecodeUintCompact()
	if err != nil {
		return ValidatorPrefs{}, fmt.Errorf("decode commission: %w", err)
	}
	if !commission.IsUint64() || commission.Uint64() > math.MaxUint32 || commission.Uint64() > perbillOne {
		return ValidatorPrefs{}, fmt.Errorf("commission out of range: %s", commission.String())
	}

	prefs := ValidatorPrefs{Commission: uint32(commission.Uint64())}
	blocked, err := decoder.ReadOneByte()
	switch {
	case errors.Is(err, io.EOF):
		return prefs, nil
	case err != nil:
		return ValidatorPrefs{}, fmt.Errorf("decode blocked flag: %w", err)
	}
	switch blocked {
	case 0:
	case 1:
		prefs.Blocked = true
	default:
		return ValidatorPrefs{}, fmt.Errorf("invalid blocked flag: %d", blocked)
	}
	return prefs, nil
}

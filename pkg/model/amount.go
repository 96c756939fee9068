package model

import (
	"bytes"
	"fmt"
	"math/big"
)

// Int is an optional integer rule parameter. It accepts either a JSON number
// or a decimal string, so amounts beyond 2^53 survive configuration files.
type Int struct {
	*big.Int
}

// NewInt wraps v.
func NewInt(v int64) Int {
	return Int{big.NewInt(v)}
}

// IsSet reports whether a value was configured.
func (i Int) IsSet() bool {
	return i.Int != nil
}

// Or returns the configured value, or def when unset.
func (i Int) Or(def *big.Int) *big.Int {
	if i.Int == nil {
		return new(big.Int).Set(def)
	}
	return new(big.Int).Set(i.Int)
}

// Uint64 returns the value as uint64, or def when unset. Values that do not
// fit are an error.
func (i Int) Uint64(def uint64) (uint64, error) {
	if i.Int == nil {
		return def, nil
	}
	if !i.Int.IsUint64() {
		return 0, fmt.Errorf("value %s out of range", i.Int)
	}
	return i.Int.Uint64(), nil
}

func (i Int) MarshalJSON() ([]byte, error) {
	if i.Int == nil {
		return []byte("null"), nil
	}
	return []byte(`"` + i.Int.String() + `"`), nil
}

func (i *Int) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		i.Int = nil
		return nil
	}
	v, ok := new(big.Int).SetString(string(b), 10)
	if !ok {
		return fmt.Errorf("invalid integer %q", b)
	}
	i.Int = v
	return nil
}

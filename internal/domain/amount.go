package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Amount wraps a u64 base-unit quantity so it crosses JSON boundaries as a
// decimal string rather than a float, preserving full 64-bit precision.
type Amount uint64

func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("domain: invalid amount %q: %w", s, err)
		}
		*a = Amount(v)
		return nil
	}

	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("domain: amount must be a decimal string or integer: %w", err)
	}
	*a = Amount(n)
	return nil
}

func ParseAmount(s string) (Amount, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("domain: invalid amount %q: %w", s, err)
	}
	return Amount(v), nil
}

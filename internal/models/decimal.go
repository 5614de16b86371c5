package models

import (
	"fmt"
	"math/big"
	"strings"
)

// BigDecimal is a fixed-point amount: BaseUnits scaled by 10^-Decimals.
// QueuedTx.Amount is stored as the human-readable decimal string (spec.md §3);
// BigDecimal is the parsed form used for arithmetic once a TokenSpec's
// decimals are known.
type BigDecimal struct {
	BaseUnits *big.Int
	Decimals  uint8
}

// literalTokens are the non-numeric strings spec.md §4.3/§4.6/§8 require
// ParseAmount to reject explicitly, regardless of what strconv/big would do
// with them.
var literalTokens = map[string]bool{
	"":          true,
	"nan":       true,
	"undefined": true,
	"null":      true,
}

// ParseAmount parses a human decimal amount string into base units for a
// token with the given number of decimals. It rejects empty strings, the
// literal tokens listed in spec.md §4.3, non-positive amounts, and amounts
// with more fractional digits than the token supports.
func ParseAmount(amount string, decimals uint8) (*BigDecimal, error) {
	trimmed := strings.TrimSpace(amount)
	if literalTokens[strings.ToLower(trimmed)] {
		return nil, fmt.Errorf("amount %q is not a valid decimal", amount)
	}
	if trimmed == "" {
		return nil, fmt.Errorf("amount must not be empty")
	}

	neg := false
	rest := trimmed
	if strings.HasPrefix(rest, "-") {
		neg = true
		rest = rest[1:]
	} else if strings.HasPrefix(rest, "+") {
		rest = rest[1:]
	}

	intPart := rest
	fracPart := ""
	if idx := strings.IndexByte(rest, '.'); idx >= 0 {
		intPart = rest[:idx]
		fracPart = rest[idx+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return nil, fmt.Errorf("amount %q is not a valid decimal", amount)
	}
	if len(fracPart) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d fractional digits", amount, decimals)
	}

	// Pad the fraction out to `decimals` digits, then parse as an integer of base units.
	fracPart = fracPart + strings.Repeat("0", int(decimals)-len(fracPart))
	digits := intPart + fracPart

	base, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a valid decimal", amount)
	}
	if neg {
		base.Neg(base)
	}
	if base.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %q", amount)
	}

	return &BigDecimal{BaseUnits: base, Decimals: decimals}, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String renders the amount back to a human decimal string.
func (d *BigDecimal) String() string {
	if d == nil || d.BaseUnits == nil {
		return "0"
	}
	s := d.BaseUnits.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if d.Decimals == 0 {
		if neg {
			return "-" + s
		}
		return s
	}
	for len(s) <= int(d.Decimals) {
		s = "0" + s
	}
	cut := len(s) - int(d.Decimals)
	out := strings.TrimRight(s[cut:], "0")
	whole := s[:cut]
	var result string
	if out == "" {
		result = whole
	} else {
		result = whole + "." + out
	}
	if neg {
		result = "-" + result
	}
	return result
}

// Add returns d + other as a new BigDecimal; both must share Decimals.
func (d *BigDecimal) Add(other *BigDecimal) *BigDecimal {
	return &BigDecimal{BaseUnits: new(big.Int).Add(d.BaseUnits, other.BaseUnits), Decimals: d.Decimals}
}

// Sub returns d - other as a new BigDecimal; both must share Decimals.
func (d *BigDecimal) Sub(other *BigDecimal) *BigDecimal {
	return &BigDecimal{BaseUnits: new(big.Int).Sub(d.BaseUnits, other.BaseUnits), Decimals: d.Decimals}
}

// Cmp compares d against other's base units.
func (d *BigDecimal) Cmp(other *BigDecimal) int {
	return d.BaseUnits.Cmp(other.BaseUnits)
}

// Zero reports whether the amount floors at exactly zero.
func (d *BigDecimal) Zero() bool {
	return d.BaseUnits.Sign() == 0
}

// ClampFloor returns d if non-negative, else a zero BigDecimal of the same scale.
func (d *BigDecimal) ClampFloor() *BigDecimal {
	if d.BaseUnits.Sign() < 0 {
		return &BigDecimal{BaseUnits: big.NewInt(0), Decimals: d.Decimals}
	}
	return d
}

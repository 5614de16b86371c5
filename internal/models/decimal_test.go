package models

import (
	"math/big"
	"testing"
)

func TestParseAmountValid(t *testing.T) {
	cases := []struct {
		amount   string
		decimals uint8
		base     string
	}{
		{"1", 18, "1000000000000000000"},
		{"1.5", 18, "1500000000000000000"},
		{"0.000001", 6, "1"},
		{"100", 0, "100"},
		{"+2.5", 2, "250"},
	}
	for _, c := range cases {
		got, err := ParseAmount(c.amount, c.decimals)
		if err != nil {
			t.Fatalf("ParseAmount(%q, %d): %v", c.amount, c.decimals, err)
		}
		want, _ := new(big.Int).SetString(c.base, 10)
		if got.BaseUnits.Cmp(want) != 0 {
			t.Fatalf("ParseAmount(%q, %d): expected base units %s, got %s", c.amount, c.decimals, c.base, got.BaseUnits)
		}
	}
}

func TestParseAmountRejectsInvalid(t *testing.T) {
	cases := []string{"", "nan", "NaN", "undefined", "null", "-1", "0", "abc", "1.2.3"}
	for _, amount := range cases {
		if _, err := ParseAmount(amount, 18); err == nil {
			t.Fatalf("ParseAmount(%q) should have been rejected", amount)
		}
	}
}

func TestParseAmountRejectsExcessFractionalDigits(t *testing.T) {
	if _, err := ParseAmount("1.1234567", 6); err == nil {
		t.Fatal("expected rejection of more fractional digits than the token supports")
	}
}

func TestBigDecimalStringRoundTrips(t *testing.T) {
	cases := []string{"1", "1.5", "0.000001", "123.456"}
	for _, amount := range cases {
		parsed, err := ParseAmount(amount, 18)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", amount, err)
		}
		if got := parsed.String(); got != amount {
			t.Fatalf("String() round-trip: expected %q, got %q", amount, got)
		}
	}
}

func TestBigDecimalArithmetic(t *testing.T) {
	a, _ := ParseAmount("3.0", 18)
	b, _ := ParseAmount("1.5", 18)

	sum := a.Add(b)
	if sum.String() != "4.5" {
		t.Fatalf("expected sum 4.5, got %s", sum.String())
	}

	diff := a.Sub(b)
	if diff.String() != "1.5" {
		t.Fatalf("expected difference 1.5, got %s", diff.String())
	}

	if a.Cmp(b) <= 0 {
		t.Fatal("expected a > b")
	}
}

func TestBigDecimalClampFloor(t *testing.T) {
	negative := &BigDecimal{BaseUnits: big.NewInt(-5), Decimals: 18}
	clamped := negative.ClampFloor()
	if !clamped.Zero() {
		t.Fatalf("expected a negative amount to clamp to zero, got %s", clamped.String())
	}

	positive := &BigDecimal{BaseUnits: big.NewInt(5), Decimals: 18}
	if positive.ClampFloor() != positive {
		t.Fatal("expected a non-negative amount to be returned unchanged")
	}
}

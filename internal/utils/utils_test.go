package utils

import "testing"

func TestNewIDProducesDistinctNonEmptyValues(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty ids")
	}
	if a == b {
		t.Fatal("expected two calls to NewID to produce distinct ids")
	}
}

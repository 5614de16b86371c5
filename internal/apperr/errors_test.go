package apperr

import (
	"errors"
	"testing"
)

func TestErrorMessageFormatting(t *testing.T) {
	withMsg := New(AmountInvalid, "must be positive")
	if withMsg.Error() != "AMOUNT_INVALID: must be positive" {
		t.Fatalf("unexpected error string: %q", withMsg.Error())
	}

	noMsg := New(SyncRequired, "")
	if noMsg.Error() != "SYNC_REQUIRED" {
		t.Fatalf("unexpected error string: %q", noMsg.Error())
	}
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(GasPriceTooHigh, "price %d exceeds max %d", 500, 100)
	if err.Error() != "GAS_PRICE_TOO_HIGH: price 500 exceeds max 100" {
		t.Fatalf("unexpected error string: %q", err.Error())
	}
}

func TestWithContextAttachesAndReturnsSameError(t *testing.T) {
	err := New(InsufficientAvailableBalance, "not enough funds")
	ctx := map[string]any{"required": "10", "available": "5"}
	returned := err.WithContext(ctx)
	if returned != err {
		t.Fatal("expected WithContext to return the same *Error for chaining")
	}
	if err.Context["required"] != "10" {
		t.Fatalf("expected context to be attached, got %+v", err.Context)
	}
}

func TestHasCodeMatchesOnlyTheGivenCode(t *testing.T) {
	err := New(WalletCorrupt, "corrupt scalar")
	if !HasCode(err, WalletCorrupt) {
		t.Fatal("expected HasCode to match the error's own code")
	}
	if HasCode(err, WalletMissing) {
		t.Fatal("expected HasCode to reject a different code")
	}
}

func TestHasCodeFalseForNonAppError(t *testing.T) {
	if HasCode(errors.New("plain error"), WalletCorrupt) {
		t.Fatal("expected HasCode to be false for a non-*Error")
	}
	if HasCode(nil, WalletCorrupt) {
		t.Fatal("expected HasCode to be false for a nil error")
	}
}

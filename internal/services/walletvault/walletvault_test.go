package walletvault

import (
	"testing"
	"time"

	"github.com/yourusername/airchainpay/internal/apperr"
	"github.com/yourusername/airchainpay/internal/services/securestore"
	"github.com/yourusername/airchainpay/internal/storage"
)

func newTestStore(t *testing.T) *securestore.Store {
	t.Helper()
	kv := storage.NewFileKVStore(t.TempDir())
	return securestore.New(kv, "correct horse battery staple")
}

func TestCreateRandomThenLoadRoundTrips(t *testing.T) {
	store := newTestStore(t)
	v := New(store, nil, 5, time.Minute)

	wallet, mnemonic, err := v.CreateRandom()
	if err != nil {
		t.Fatalf("CreateRandom: %v", err)
	}
	if mnemonic == "" {
		t.Fatal("expected a generated mnemonic")
	}
	if wallet.Address == "" {
		t.Fatal("expected a derived address")
	}

	reloaded := New(store, nil, 5, time.Minute)
	loaded, err := reloaded.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Address != wallet.Address {
		t.Fatalf("expected reloaded address %s to match %s", loaded.Address, wallet.Address)
	}
}

func TestLoadWithNoWalletReturnsWalletMissing(t *testing.T) {
	store := newTestStore(t)
	v := New(store, nil, 5, time.Minute)

	_, err := v.Load()
	if !apperr.HasCode(err, apperr.WalletMissing) {
		t.Fatalf("expected WalletMissing, got %v", err)
	}
}

func TestLoadLocksOutAfterMaxAttempts(t *testing.T) {
	store := newTestStore(t)
	v := New(store, nil, 2, time.Minute)

	// two failed attempts against an empty store (WalletMissing each time,
	// but each still consumes a slot in the limiter).
	_, _ = v.Load()
	_, _ = v.Load()

	_, err := v.Load()
	if !apperr.HasCode(err, apperr.PasswordLockedOut) {
		t.Fatalf("expected PasswordLockedOut on the 3rd attempt, got %v", err)
	}
}

func TestLoadQuarantinesCorruptScalar(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put("wallet_private_key", []byte("not-a-scalar")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var quarantined bool
	v := New(store, func(ev CorruptionEvent) { quarantined = true }, 5, time.Minute)

	wallet, err := v.Load()
	if err != nil {
		t.Fatalf("Load should recover by generating a fresh wallet: %v", err)
	}
	if wallet == nil || wallet.Address == "" {
		t.Fatal("expected a freshly generated wallet after quarantine")
	}
	if !quarantined {
		t.Fatal("expected the corruption callback to fire")
	}
}

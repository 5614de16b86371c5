package admission

import (
	"math/big"
	"testing"

	"github.com/yourusername/airchainpay/internal/models"
)

func testChain() models.ChainEntry {
	return models.ChainEntry{
		ID: models.ChainID("base-sepolia"),
		NativeToken: models.TokenSpec{
			Symbol: "ETH", Decimals: 18, IsNative: true, Chain: models.ChainID("base-sepolia"),
		},
	}
}

func TestDebitTrackingReleasesCreditedAmount(t *testing.T) {
	p := New(Deps{Chain: testChain()})

	credited, err := models.ParseAmount("1.5", 18)
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	p.creditTracking("", credited)

	debited, err := models.ParseAmount("0.5", 18)
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	p.DebitTracking(models.TokenSpec{IsNative: true}, debited)

	remaining := p.trackingFor("", 18)
	want, _ := models.ParseAmount("1.0", 18)
	if remaining.BaseUnits.Cmp(want.BaseUnits) != 0 {
		t.Fatalf("expected remaining tracking 1.0, got %s", remaining.String())
	}
}

func TestDebitTrackingKeysERC20ByAddress(t *testing.T) {
	p := New(Deps{Chain: testChain()})
	token := models.TokenSpec{Symbol: "USDC", Decimals: 6, Address: "0xabc"}

	credited, _ := models.ParseAmount("100", 6)
	p.creditTracking(token.Address, credited)

	debited, _ := models.ParseAmount("40", 6)
	p.DebitTracking(token, debited)

	remaining := p.trackingFor("0xabc", 6)
	want, _ := models.ParseAmount("60", 6)
	if remaining.BaseUnits.Cmp(want.BaseUnits) != 0 {
		t.Fatalf("expected remaining tracking 60, got %s", remaining.String())
	}

	// the native-token bucket is untouched by an ERC-20 debit.
	native := p.trackingFor("", 18)
	if native.BaseUnits.Cmp(big.NewInt(0)) != 0 {
		t.Fatalf("expected native tracking untouched, got %s", native.String())
	}
}

func TestNonceSnapshotReturnsCopyNotAlias(t *testing.T) {
	p := New(Deps{Chain: testChain()})
	p.nonce = models.NonceState{ChainObservedNonce: 5, OfflineNonce: 7}

	snap := p.NonceSnapshot()
	if snap.ChainObservedNonce != 5 || snap.OfflineNonce != 7 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	snap.OfflineNonce = 99
	if p.nonce.OfflineNonce == 99 {
		t.Fatal("NonceSnapshot must return a copy, not a pointer into live state")
	}
}

package chainadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yourusername/airchainpay/internal/apperr"
	"github.com/yourusername/airchainpay/internal/models"
)

// fakeRPCServer answers single eth_* JSON-RPC requests with canned results,
// keyed by method name, so ethclient can be exercised against a real HTTP
// endpoint without a live chain.
func fakeRPCServer(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding rpc request: %v", err)
		}
		result, ok := results[req.Method]
		if !ok {
			t.Fatalf("unexpected rpc method %q", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	}))
}

func testChain(endpoints ...string) models.ChainEntry {
	return models.ChainEntry{
		ID:         models.ChainID("base-sepolia"),
		RPCPrimary: endpoints[0],
		RPCBackups: endpoints[1:],
	}
}

func TestStatusTrueWhenBlockNumberPositive(t *testing.T) {
	srv := fakeRPCServer(t, map[string]string{"eth_blockNumber": `"0x10"`})
	defer srv.Close()

	a := New(testChain(srv.URL))
	if !a.Status(context.Background()) {
		t.Fatal("expected Status true for a positive block number")
	}
}

func TestStatusFalseWhenAllEndpointsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := New(testChain(srv.URL))
	if a.Status(context.Background()) {
		t.Fatal("expected Status false when every endpoint fails")
	}
}

func TestStatusFailsOverToBackupEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := fakeRPCServer(t, map[string]string{"eth_blockNumber": `"0x1"`})
	defer good.Close()

	a := New(testChain(bad.URL, good.URL))
	if !a.Status(context.Background()) {
		t.Fatal("expected Status to succeed via the backup endpoint")
	}
}

func TestBalanceReturnsNativeWeiAmount(t *testing.T) {
	srv := fakeRPCServer(t, map[string]string{"eth_getBalance": `"0xde0b6b3a7640000"`})
	defer srv.Close()

	a := New(testChain(srv.URL))
	balance, err := a.Balance(context.Background(), "0x000000000000000000000000000000000000aa", models.TokenSpec{IsNative: true})
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance.String() != "1000000000000000000" {
		t.Fatalf("expected 1 ether in wei, got %s", balance)
	}
}

func TestBalanceCallsBalanceOfForNonNativeToken(t *testing.T) {
	srv := fakeRPCServer(t, map[string]string{
		"eth_call": `"0x00000000000000000000000000000000000000000000000000000005f5e100"`,
	})
	defer srv.Close()

	a := New(testChain(srv.URL))
	token := models.TokenSpec{IsNative: false, Address: "0x000000000000000000000000000000000000cc", Decimals: 6}
	balance, err := a.Balance(context.Background(), "0x000000000000000000000000000000000000aa", token)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance.String() != "100000000" {
		t.Fatalf("expected 100000000 base units from balanceOf, got %s", balance)
	}
}

func TestNonceReturnsPendingCount(t *testing.T) {
	srv := fakeRPCServer(t, map[string]string{"eth_getTransactionCount": `"0x7"`})
	defer srv.Close()

	a := New(testChain(srv.URL))
	nonce, err := a.Nonce(context.Background(), "0x000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatalf("Nonce: %v", err)
	}
	if nonce != 7 {
		t.Fatalf("expected nonce 7, got %d", nonce)
	}
}

func TestGasPriceFallsBackToLegacyWhenNoBaseFee(t *testing.T) {
	srv := fakeRPCServer(t, map[string]string{
		"eth_maxPriorityFeePerGas": `"0x3b9aca00"`,
		"eth_getBlockByNumber":     `{"number":"0x1","hash":"0x0000000000000000000000000000000000000000000000000000000000000a","parentHash":"0x0000000000000000000000000000000000000000000000000000000000000b","nonce":"0x0000000000000000","mixHash":"0x0000000000000000000000000000000000000000000000000000000000000c","sha3Uncles":"0x0000000000000000000000000000000000000000000000000000000000000d","logsBloom":"0x00","stateRoot":"0x0000000000000000000000000000000000000000000000000000000000000e","miner":"0x0000000000000000000000000000000000000000","difficulty":"0x0","extraData":"0x","size":"0x0","gasLimit":"0x0","gasUsed":"0x0","timestamp":"0x0","transactions":[],"uncles":[]}`,
		"eth_gasPrice":             `"0x3b9aca00"`,
	})
	defer srv.Close()

	a := New(testChain(srv.URL))
	price, err := a.GasPrice(context.Background())
	if err != nil {
		t.Fatalf("GasPrice: %v", err)
	}
	if price.Sign() <= 0 {
		t.Fatalf("expected a positive gas price, got %s", price)
	}
}

func TestBroadcastRelaySucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hash":"0xabc123"}`))
	}))
	defer srv.Close()

	chain := models.ChainEntry{ID: "base-sepolia", RelayEndpoint: srv.URL}
	a := New(chain)
	hash, err := a.BroadcastRelay(context.Background(), "0xdeadbeef")
	if err != nil {
		t.Fatalf("BroadcastRelay: %v", err)
	}
	if hash != "0xabc123" {
		t.Fatalf("expected relay hash 0xabc123, got %s", hash)
	}
}

func TestBroadcastRelayRejectsMissingEndpoint(t *testing.T) {
	a := New(models.ChainEntry{ID: "base-sepolia"})
	if _, err := a.BroadcastRelay(context.Background(), "0xdeadbeef"); !apperr.HasCode(err, apperr.ProviderUnavailable) {
		t.Fatalf("expected ProviderUnavailable, got %v", err)
	}
}

func TestBroadcastRelayPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"rejected"}`))
	}))
	defer srv.Close()

	chain := models.ChainEntry{ID: "base-sepolia", RelayEndpoint: srv.URL}
	a := New(chain)
	if _, err := a.BroadcastRelay(context.Background(), "0xdeadbeef"); !apperr.HasCode(err, apperr.ProviderUnavailable) {
		t.Fatalf("expected ProviderUnavailable for a non-2xx relay response, got %v", err)
	}
}

func TestBroadcastRelayRejectsResponseMissingHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	chain := models.ChainEntry{ID: "base-sepolia", RelayEndpoint: srv.URL}
	a := New(chain)
	if _, err := a.BroadcastRelay(context.Background(), "0xdeadbeef"); !apperr.HasCode(err, apperr.ProviderUnavailable) {
		t.Fatalf("expected ProviderUnavailable for a relay response missing a hash, got %v", err)
	}
}

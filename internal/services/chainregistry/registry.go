// Package chainregistry builds the immutable per-chain table every other
// subsystem reads from: RPC endpoints, forwarder contract address, native
// token metadata, and gas-price bounds. Grounded on the teacher's
// src/chainadapter/provider.Registry (arcsign), which keeps a fixed map of
// provider configs built once at startup; this package generalizes that
// idea to config.ChainConfig instead of a provider-per-network map.
package chainregistry

import (
	"fmt"

	"github.com/yourusername/airchainpay/internal/config"
	"github.com/yourusername/airchainpay/internal/models"
)

// Registry is the immutable, concurrency-safe lookup table of configured chains.
type Registry struct {
	chains map[models.ChainID]models.ChainEntry
	order  []models.ChainID
}

// New builds a Registry from configuration. It is an error for a chain to
// have no RPC endpoint, no forwarder contract, or duplicate id.
func New(chains []config.ChainConfig) (*Registry, error) {
	r := &Registry{chains: make(map[models.ChainID]models.ChainEntry, len(chains))}

	for _, c := range chains {
		id := models.ChainID(c.ID)
		if id == "" {
			return nil, fmt.Errorf("chainregistry: chain entry missing id")
		}
		if _, exists := r.chains[id]; exists {
			return nil, fmt.Errorf("chainregistry: duplicate chain id %q", c.ID)
		}
		if c.RPCPrimary == "" {
			return nil, fmt.Errorf("chainregistry: chain %q missing rpc_primary", c.ID)
		}
		if c.ForwarderContract == "" {
			return nil, fmt.Errorf("chainregistry: chain %q missing forwarder_contract", c.ID)
		}

		entry := models.ChainEntry{
			ID:                id,
			NumericChainID:    c.NumericChainID,
			RPCPrimary:        c.RPCPrimary,
			RPCBackups:        c.RPCBackups,
			ForwarderContract: c.ForwarderContract,
			RelayEndpoint:     c.RelayEndpoint,
			ExplorerBase:      c.ExplorerBase,
			NativeToken: models.TokenSpec{
				Symbol:   c.NativeSymbol,
				Name:     c.NativeSymbol,
				Decimals: c.NativeDecimals,
				Chain:    id,
				IsNative: true,
			},
			MinGasGwei:       c.Gas.MinGwei,
			MaxGasGwei:       c.Gas.MaxGwei,
			WarnGasGwei:      c.Gas.WarnGwei,
			EmergencyGasGwei: c.Gas.EmergencyGwei,
		}
		if err := entry.NativeToken.Validate(); err != nil {
			return nil, fmt.Errorf("chainregistry: chain %q: %w", c.ID, err)
		}

		r.chains[id] = entry
		r.order = append(r.order, id)
	}

	return r, nil
}

// Get returns the entry for id, or false if the chain is not configured.
func (r *Registry) Get(id models.ChainID) (models.ChainEntry, bool) {
	entry, ok := r.chains[id]
	return entry, ok
}

// MustGet is a convenience for callers that already validated id via Get or
// Supported; it panics if id is not registered.
func (r *Registry) MustGet(id models.ChainID) models.ChainEntry {
	entry, ok := r.chains[id]
	if !ok {
		panic(fmt.Sprintf("chainregistry: chain %q not registered", id))
	}
	return entry
}

// Supported reports whether id is a configured chain.
func (r *Registry) Supported(id models.ChainID) bool {
	_, ok := r.chains[id]
	return ok
}

// IDs returns the configured chain ids in registration order.
func (r *Registry) IDs() []models.ChainID {
	out := make([]models.ChainID, len(r.order))
	copy(out, r.order)
	return out
}

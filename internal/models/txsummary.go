package models

import "math/big"

// TxSummary is the bounded-window transaction history ChainAdapter.RecentTxsFrom
// returns, consumed by CrossWalletMonitor to detect externally originated
// activity on the shared address (spec.md §4.4, §4.9).
type TxSummary struct {
	Hash             string
	Nonce            uint64
	To               string
	Value            *big.Int
	PaymentReference string
	BlockNumber      uint64
}

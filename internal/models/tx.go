package models

import "time"

// TxStatus is the lifecycle state of a QueuedTx, per spec.md §3.
type TxStatus string

const (
	TxQueued    TxStatus = "queued"
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
	TxCancelled TxStatus = "cancelled"
	TxExpired   TxStatus = "expired"
)

// Transport identifies how a QueuedTx is expected to leave the device.
type Transport string

const (
	TransportRelay     Transport = "relay"
	TransportOnChain   Transport = "onchain"
	TransportBLE       Transport = "ble"
	TransportSecureBLE Transport = "secure_ble"
	TransportQR        Transport = "qr"
)

// SecurityMetadata records which admission checks a QueuedTx passed.
type SecurityMetadata struct {
	BalanceValidated  bool      `json:"balanceValidated"`
	DuplicateChecked  bool      `json:"duplicateChecked"`
	NonceValidated    bool      `json:"nonceValidated"`
	CreatedOfflineAt  time.Time `json:"createdOfflineAt,omitempty"`
}

// TxMetadata carries optional payment-request and sync-adjustment context.
type TxMetadata struct {
	Merchant          string    `json:"merchant,omitempty"`
	Location          string    `json:"location,omitempty"`
	MaxAmount         string    `json:"maxAmount,omitempty"`
	MinAmount         string    `json:"minAmount,omitempty"`
	Expiry            *time.Time `json:"expiry,omitempty"`
	AdjustedGasPrice  string    `json:"adjustedGasPrice,omitempty"`
	AdjustedGasLimit  uint64    `json:"adjustedGasLimit,omitempty"`
	DelayHours        float64   `json:"delayHours,omitempty"`
	OriginalTimestamp *time.Time `json:"originalTimestamp,omitempty"`
}

// QueuedTx is the immutable-after-insert (save status/error/retry_count) unit
// the TxQueue stores, per spec.md §3 and §6.
type QueuedTx struct {
	ID                string           `json:"id"`
	Chain             ChainID          `json:"chain"`
	To                string           `json:"to"`
	Amount            string           `json:"amount"`
	Token             TokenSpec        `json:"token"`
	PaymentReference  string           `json:"paymentReference,omitempty"`
	SignedRaw         string           `json:"signedRaw,omitempty"`
	Transport         Transport        `json:"transport"`
	CreatedAt         time.Time        `json:"createdAt"`
	Status            TxStatus         `json:"status"`
	RetryCount        int              `json:"retryCount"`
	Nonce             uint64           `json:"nonce"`
	Error             string           `json:"error,omitempty"`
	SecurityMetadata  SecurityMetadata `json:"securityMetadata"`
	Metadata          TxMetadata       `json:"metadata,omitempty"`
}

// OfflineBalanceTracking is the per-(chain,token) ledger of funds committed to
// the offline queue, per spec.md §3.
type OfflineBalanceTracking struct {
	PendingAmountBaseUnits *BigDecimal `json:"pendingAmountBaseUnits"`
	LastUpdated            time.Time   `json:"lastUpdated"`
}

// NonceState tracks the chain-observed and offline nonce counters for one chain.
type NonceState struct {
	ChainObservedNonce uint64    `json:"chainObservedNonce"`
	OfflineNonce       uint64    `json:"offlineNonce"`
	LastSync           time.Time `json:"lastSync"`
}

// SyncedBalanceSnapshot is the most recent balance ChainAdapter reported for a chain.
type SyncedBalanceSnapshot struct {
	Balance   *BigDecimal `json:"balance"`
	FetchedAt time.Time   `json:"fetchedAt"`
}

// Fresh reports whether the snapshot is still within ttl of now.
func (s SyncedBalanceSnapshot) Fresh(now time.Time, ttl time.Duration) bool {
	if s.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(s.FetchedAt) < ttl
}

// ExpiredTxRecord is an append-only history entry written when a QueuedTx expires.
type ExpiredTxRecord struct {
	TxID      string    `json:"txId"`
	Chain     ChainID   `json:"chain"`
	Amount    string    `json:"amount"`
	Reason    string    `json:"reason"`
	ExpiredAt time.Time `json:"expiredAt"`
}

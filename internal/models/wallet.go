package models

import "time"

// Wallet is the metadata WalletVault persists about the single EVM keypair it
// owns. The secret material itself never lives on this struct; it is kept
// behind SecureStore and only ever materialized inside WalletVault.
type Wallet struct {
	Address          string    `json:"address"`
	CreatedAt        time.Time `json:"createdAt"`
	LastAccessedAt   time.Time `json:"lastAccessedAt"`
	HasMnemonic      bool      `json:"hasMnemonic"`
	BackupConfirmed  bool      `json:"backupConfirmed"`
}

// WalletSecret is the sensitive material WalletVault reconstructs a signer from.
// Mnemonic is optional: a wallet imported from a raw private key has none.
type WalletSecret struct {
	PrivateKeyHex string `json:"-"`
	Mnemonic      string `json:"-"`
}

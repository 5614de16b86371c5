// Package walletvault owns the single EVM keypair this payment core
// mediates every signing operation through. It is grounded on the teacher's
// internal/services/wallet.WalletService (arcsign): mnemonic generation via
// bip39service, HD derivation via hdkey, encryption via
// internal/services/crypto, generalized from "one wallet directory per coin
// on a USB drive" to "one EVM keypair behind SecureStore", since spec.md's
// WalletVault is a single-address signer rather than a multi-coin address
// book. Key materialization and checksummed address derivation use
// github.com/ethereum/go-ethereum/crypto, the same library the teacher's
// src/chainadapter/ethereum package is built on.
package walletvault

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	gethaccounts "github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/yourusername/airchainpay/internal/apperr"
	"github.com/yourusername/airchainpay/internal/models"
	"github.com/yourusername/airchainpay/internal/services/bip39service"
	"github.com/yourusername/airchainpay/internal/services/hdkey"
	"github.com/yourusername/airchainpay/internal/services/ratelimit"
	"github.com/yourusername/airchainpay/internal/services/securestore"
)

// unlockKey is the single rate-limit bucket this vault's Load uses. There is
// exactly one wallet per vault, so a fixed key is sufficient rather than
// keying per-caller identity the way the teacher's multi-wallet limiter did.
const unlockKey = "wallet_unlock"

// derivationPath is BIP-44 for Ethereum: m/44'/60'/0'/0/0.
const derivationPath = "44'/60'/0'/0/0"

const (
	keyPrivateKey = "wallet_private_key"
	keyMnemonic   = "wallet_seed_phrase"
	keyTempSeed   = "temp_seed_phrase"
	keyBackupDone = "backup_confirmed"
)

// sentinelScalars are the literal strings §4.3 requires WalletVault to
// reject as a corrupt stored scalar, with or without the "0x" prefix.
var sentinelScalars = map[string]bool{
	"true": true, "false": true, "null": true, "undefined": true, "nan": true,
}

// CorruptionEvent is emitted (never invoked as a direct callback into
// another subsystem, per spec.md §9's event-emission redesign note) when
// WalletVault auto-quarantines a corrupt stored scalar.
type CorruptionEvent struct {
	Reason     string
	OccurredAt time.Time
}

// Vault mediates every signing operation over the one EVM keypair it owns.
type Vault struct {
	store      *securestore.Store
	bip39      *bip39service.BIP39Service
	hd         *hdkey.HDKeyService
	onCorrupt  func(CorruptionEvent)
	limiter    *ratelimit.RateLimiter
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// New constructs a Vault over store. onCorrupt may be nil. maxAttempts and
// lockoutWindow configure the sliding-window lockout Load enforces against
// repeated wrong-password attempts (spec.md §6's max_password_attempts /
// lockout_duration).
func New(store *securestore.Store, onCorrupt func(CorruptionEvent), maxAttempts int, lockoutWindow time.Duration) *Vault {
	return &Vault{
		store:     store,
		bip39:     bip39service.NewBIP39Service(),
		hd:        hdkey.NewHDKeyService(),
		onCorrupt: onCorrupt,
		limiter:   ratelimit.NewRateLimiter(maxAttempts, lockoutWindow),
	}
}

// Loaded reports whether a keypair is currently materialized in memory.
func (v *Vault) Loaded() bool {
	return v.privateKey != nil
}

// Address returns the checksummed address of the loaded wallet.
func (v *Vault) Address() string {
	return v.address.Hex()
}

// CreateRandom generates a fresh 12-word mnemonic, derives the wallet, and
// persists both the mnemonic (pending backup confirmation) and the scalar.
func (v *Vault) CreateRandom() (*models.Wallet, string, error) {
	mnemonic, err := v.bip39.GenerateMnemonic(12)
	if err != nil {
		return nil, "", apperr.Newf(apperr.WalletCorrupt, "generating mnemonic: %v", err)
	}
	wallet, err := v.ImportSeed(mnemonic)
	if err != nil {
		return nil, "", err
	}
	return wallet, mnemonic, nil
}

// ImportSeed derives and loads a wallet from an existing BIP39 phrase.
func (v *Vault) ImportSeed(phrase string) (*models.Wallet, error) {
	if err := v.bip39.ValidateMnemonic(phrase); err != nil {
		return nil, apperr.Newf(apperr.WalletCorrupt, "invalid mnemonic: %v", err)
	}

	seed, err := v.bip39.MnemonicToSeed(phrase, "")
	if err != nil {
		return nil, apperr.Newf(apperr.WalletCorrupt, "deriving seed: %v", err)
	}
	master, err := v.hd.NewMasterKey(seed)
	if err != nil {
		return nil, apperr.Newf(apperr.WalletCorrupt, "deriving master key: %v", err)
	}
	derived, err := v.hd.DerivePath(master, derivationPath)
	if err != nil {
		return nil, apperr.Newf(apperr.WalletCorrupt, "deriving path: %v", err)
	}
	scalarBytes, err := v.hd.GetPrivateKey(derived)
	if err != nil {
		return nil, apperr.Newf(apperr.WalletCorrupt, "extracting private key: %v", err)
	}

	privKey, err := crypto.ToECDSA(scalarBytes)
	if err != nil {
		return nil, apperr.Newf(apperr.WalletCorrupt, "materializing keypair: %v", err)
	}

	v.privateKey = privKey
	v.address = crypto.PubkeyToAddress(privKey.PublicKey)

	if err := v.store.Put(keyPrivateKey, []byte("0x"+hex.EncodeToString(scalarBytes))); err != nil {
		return nil, err
	}
	if err := v.store.Put(keyMnemonic, []byte(phrase)); err != nil {
		return nil, err
	}
	if err := v.store.Put(keyTempSeed, []byte(phrase)); err != nil {
		return nil, err
	}

	now := time.Now()
	return &models.Wallet{
		Address:         v.address.Hex(),
		CreatedAt:       now,
		LastAccessedAt:  now,
		HasMnemonic:     true,
		BackupConfirmed: false,
	}, nil
}

// ImportPrivate loads a wallet directly from a 32-byte hex scalar ("0x" + 64
// hex nibbles), with no mnemonic.
func (v *Vault) ImportPrivate(scalarHex string) (*models.Wallet, error) {
	privKey, err := materializeScalar(scalarHex)
	if err != nil {
		return nil, apperr.Newf(apperr.WalletCorrupt, "%v", err)
	}

	v.privateKey = privKey
	v.address = crypto.PubkeyToAddress(privKey.PublicKey)

	if err := v.store.Put(keyPrivateKey, []byte(normalizeScalarHex(scalarHex))); err != nil {
		return nil, err
	}

	now := time.Now()
	return &models.Wallet{
		Address:        v.address.Hex(),
		CreatedAt:      now,
		LastAccessedAt: now,
		HasMnemonic:    false,
	}, nil
}

// Load reconstitutes the in-memory keypair from SecureStore, running the
// corruption checks spec.md §4.3 requires. On a corrupt scalar it
// auto-quarantines: deletes the bad value, generates a fresh wallet, and
// emits a CorruptionEvent (never calling back into another subsystem
// directly).
func (v *Vault) Load() (*models.Wallet, error) {
	if !v.limiter.AllowAttempt(unlockKey) {
		return nil, apperr.New(apperr.PasswordLockedOut, "too many failed unlock attempts, try again later")
	}

	raw, err := v.store.Get(keyPrivateKey)
	if err != nil {
		if errors.Is(err, securestore.ErrNotFound) {
			return nil, apperr.New(apperr.WalletMissing, "no wallet scalar stored")
		}
		return nil, apperr.New(apperr.PasswordInvalid, "incorrect password")
	}
	v.limiter.ResetWallet(unlockKey)
	scalarHex := string(raw)

	privKey, err := materializeScalar(scalarHex)
	if err != nil {
		v.quarantine(err.Error())
		wallet, _, err := v.CreateRandom()
		return wallet, err
	}

	var mnemonic string
	if m, err := v.store.Get(keyMnemonic); err == nil {
		mnemonic = string(m)
	}
	if mnemonic != "" {
		if err := v.checkMnemonicConsistency(mnemonic, privKey); err != nil {
			v.quarantine(err.Error())
			wallet, _, err := v.CreateRandom()
			return wallet, err
		}
	}

	v.privateKey = privKey
	v.address = crypto.PubkeyToAddress(privKey.PublicKey)

	backupConfirmed := false
	if b, err := v.store.Get(keyBackupDone); err == nil {
		backupConfirmed = string(b) == "true"
	}

	return &models.Wallet{
		Address:         v.address.Hex(),
		LastAccessedAt:  time.Now(),
		HasMnemonic:     mnemonic != "",
		BackupConfirmed: backupConfirmed,
	}, nil
}

// ValidateConsistency re-runs the corruption and mnemonic-match checks
// without mutating state, for a caller that wants a health check only.
func (v *Vault) ValidateConsistency() error {
	raw, err := v.store.Get(keyPrivateKey)
	if err != nil {
		return apperr.New(apperr.WalletMissing, "no wallet scalar stored")
	}
	privKey, err := materializeScalar(string(raw))
	if err != nil {
		return apperr.Newf(apperr.WalletCorrupt, "%v", err)
	}
	if m, err := v.store.Get(keyMnemonic); err == nil && len(m) > 0 {
		if err := v.checkMnemonicConsistency(string(m), privKey); err != nil {
			return apperr.Newf(apperr.WalletCorrupt, "%v", err)
		}
	}
	return nil
}

func (v *Vault) checkMnemonicConsistency(mnemonic string, privKey *ecdsa.PrivateKey) error {
	seed, err := v.bip39.MnemonicToSeed(mnemonic, "")
	if err != nil {
		return fmt.Errorf("seed derivation failed: %w", err)
	}
	master, err := v.hd.NewMasterKey(seed)
	if err != nil {
		return fmt.Errorf("master key derivation failed: %w", err)
	}
	derived, err := v.hd.DerivePath(master, derivationPath)
	if err != nil {
		return fmt.Errorf("path derivation failed: %w", err)
	}
	derivedScalar, err := v.hd.GetPrivateKey(derived)
	if err != nil {
		return fmt.Errorf("private key extraction failed: %w", err)
	}
	if hex.EncodeToString(derivedScalar) != hex.EncodeToString(crypto.FromECDSA(privKey)) {
		return fmt.Errorf("mnemonic does not derive the stored scalar")
	}
	return nil
}

func (v *Vault) quarantine(reason string) {
	_ = v.store.Delete(keyPrivateKey)
	_ = v.store.Delete(keyMnemonic)
	if v.onCorrupt != nil {
		v.onCorrupt(CorruptionEvent{Reason: reason, OccurredAt: time.Now()})
	}
}

// ClearAll wipes every key this vault owns, for the manual clear-then-
// reimport flow spec.md §4.3 calls for on a detected mismatch.
func (v *Vault) ClearAll() {
	_ = v.store.Delete(keyPrivateKey)
	_ = v.store.Delete(keyMnemonic)
	_ = v.store.Delete(keyTempSeed)
	_ = v.store.Delete(keyBackupDone)
	v.privateKey = nil
	v.address = common.Address{}
}

// ExportSeed is a sensitive operation returning the stored mnemonic, if any.
func (v *Vault) ExportSeed() (string, error) {
	raw, err := v.store.Get(keyMnemonic)
	if err != nil {
		return "", apperr.New(apperr.WalletMissing, "wallet has no mnemonic")
	}
	return string(raw), nil
}

// ExportPrivate is a sensitive operation returning the stored scalar hex.
func (v *Vault) ExportPrivate() (string, error) {
	raw, err := v.store.Get(keyPrivateKey)
	if err != nil {
		return "", apperr.New(apperr.WalletMissing, "no wallet scalar stored")
	}
	return string(raw), nil
}

// ConfirmBackup marks the mnemonic backed up and clears the pre-confirmation copy.
func (v *Vault) ConfirmBackup() error {
	if err := v.store.Put(keyBackupDone, []byte("true")); err != nil {
		return err
	}
	return v.store.ClearBackup(keyTempSeed)
}

// SignTx signs an unsigned EVM transaction using EIP-155 replay protection.
func (v *Vault) SignTx(unsigned *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if v.privateKey == nil {
		return nil, apperr.New(apperr.WalletMissing, "no wallet loaded")
	}
	signer := types.LatestSignerForChainID(chainID)
	return types.SignTx(unsigned, signer, v.privateKey)
}

// SignMessage signs an arbitrary message with the Ethereum personal-sign
// prefix ("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func (v *Vault) SignMessage(msg []byte) ([]byte, error) {
	if v.privateKey == nil {
		return nil, apperr.New(apperr.WalletMissing, "no wallet loaded")
	}
	hash := gethaccounts.TextHash(msg)
	return crypto.Sign(hash, v.privateKey)
}

// SignTyped signs an EIP-712 typed-data value per apitypes.TypedData.
func (v *Vault) SignTyped(typedData apitypes.TypedData) ([]byte, common.Hash, error) {
	if v.privateKey == nil {
		return nil, common.Hash{}, apperr.New(apperr.WalletMissing, "no wallet loaded")
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, common.Hash{}, apperr.Newf(apperr.SignatureInvalid, "hashing domain: %v", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, common.Hash{}, apperr.Newf(apperr.SignatureInvalid, "hashing message: %v", err)
	}

	rawData := append([]byte("\x19\x01"), domainSeparator...)
	rawData = append(rawData, typedDataHash...)
	digest := crypto.Keccak256(rawData)

	sig, err := crypto.Sign(digest, v.privateKey)
	if err != nil {
		return nil, common.Hash{}, apperr.Newf(apperr.SignatureInvalid, "signing: %v", err)
	}
	// Ethereum convention: recovery id in the last byte as 27/28, not 0/1.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, common.BytesToHash(digest), nil
}

// materializeScalar runs the §4.3 corruption checks and returns the loaded
// ecdsa.PrivateKey, or an error describing the first failed check.
func materializeScalar(scalarHex string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimSpace(scalarHex)
	lower := strings.ToLower(trimmed)
	stripped := strings.TrimPrefix(lower, "0x")
	if sentinelScalars[lower] || sentinelScalars[stripped] {
		return nil, fmt.Errorf("stored scalar is a sentinel value")
	}
	if !strings.HasPrefix(trimmed, "0x") {
		return nil, fmt.Errorf("stored scalar missing 0x prefix")
	}
	hexPart := trimmed[2:]
	if len(hexPart) != 64 {
		return nil, fmt.Errorf("stored scalar must be 64 hex nibbles, got %d", len(hexPart))
	}
	raw, err := hex.DecodeString(hexPart)
	if err != nil {
		return nil, fmt.Errorf("stored scalar is not valid hex: %w", err)
	}
	privKey, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("stored scalar does not materialize a keypair: %w", err)
	}
	return privKey, nil
}

func normalizeScalarHex(scalarHex string) string {
	trimmed := strings.TrimSpace(scalarHex)
	if !strings.HasPrefix(trimmed, "0x") {
		trimmed = "0x" + trimmed
	}
	return trimmed
}

// Package metatx builds the EIP-712 typed-data payloads and signatures
// spec.md §4.6 requires for native and token forwarder calls. It uses
// github.com/ethereum/go-ethereum/signer/core/apitypes for the TypedData
// value, domain, and type definitions — the same go-ethereum module
// WalletVault already depends on — hashed via apitypes.TypedData.HashStruct
// and signed through walletvault.Vault.SignTyped, mirroring how the
// teacher's src/chainadapter/ethereum package builds and signs transactions
// with go-ethereum primitives directly rather than a higher-level
// convenience wrapper.
package metatx

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/yourusername/airchainpay/internal/apperr"
	"github.com/yourusername/airchainpay/internal/models"
	"github.com/yourusername/airchainpay/internal/services/walletvault"
)

const domainName = "AirChainPayToken"
const domainVersion = "1"
const defaultDeadlineWindow = 3600 * time.Second

// ReferenceMarker is the fixed 4-byte tag this builder reserves at the front
// of every paymentReference it signs, so crosswallet.Monitor can tell this
// wallet's own payments apart from transactions submitted on its behalf by
// someone else. 0xA1 0xC0 0x50 0x61 reads, loosely, as ASCII-ish "ACPA"
// (AirChainPay). SyncEngine also stamps it into the calldata of any payment
// it ends up broadcasting directly, since that's the one path that puts this
// wallet's own address in a transaction's "from" field on-chain.
var ReferenceMarker = []byte{0xA1, 0xC0, 0x50, 0x61}

var referenceMarkerHex = hex.EncodeToString(ReferenceMarker)

// markReference prepends ReferenceMarker (hex-encoded) to ref, unless it is
// already present, so a caller re-using a reference across retries doesn't
// accumulate copies of the tag.
func markReference(ref string) string {
	if len(ref) >= len(referenceMarkerHex) && ref[:len(referenceMarkerHex)] == referenceMarkerHex {
		return ref
	}
	return referenceMarkerHex + ref
}

// Builder produces signed meta-transaction payloads against a chain's
// forwarder contract.
type Builder struct {
	vault *walletvault.Vault
}

// New constructs a Builder signing through vault.
func New(vault *walletvault.Vault) *Builder {
	return &Builder{vault: vault}
}

// SignedMetaTx is the result of building and signing a meta-transaction: the
// typed-data digest, the raw signature, and the paymentReference actually used.
type SignedMetaTx struct {
	Digest           common.Hash
	Signature        []byte
	PaymentReference string
	Deadline         int64
	Nonce            uint64
}

// BuildNativePayment signs a NativePayment(from, to, amount, paymentReference,
// nonce, deadline) typed-data value.
func (b *Builder) BuildNativePayment(chain models.ChainEntry, from, to string, amount *big.Int, paymentReference string, nonce uint64) (*SignedMetaTx, error) {
	if err := validateAddresses(from, to); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, apperr.New(apperr.AmountInvalid, "amount must be a positive integer")
	}
	deadline := time.Now().Add(defaultDeadlineWindow).Unix()
	if paymentReference == "" {
		paymentReference = defaultReference(from, to)
	}
	paymentReference = markReference(paymentReference)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes(),
			"NativePayment": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "paymentReference", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "NativePayment",
		Domain:      domain(chain),
		Message: apitypes.TypedDataMessage{
			"from":             from,
			"to":               to,
			"amount":           amount.String(),
			"paymentReference": paymentReference,
			"nonce":            fmt.Sprintf("%d", nonce),
			"deadline":         fmt.Sprintf("%d", deadline),
		},
	}

	sig, digest, err := b.vault.SignTyped(typedData)
	if err != nil {
		return nil, err
	}
	return &SignedMetaTx{Digest: digest, Signature: sig, PaymentReference: paymentReference, Deadline: deadline, Nonce: nonce}, nil
}

// BuildTokenPayment signs a TokenPayment(from, to, token, amount,
// paymentReference, nonce, deadline) typed-data value.
func (b *Builder) BuildTokenPayment(chain models.ChainEntry, from, to, token string, amount *big.Int, paymentReference string, nonce uint64) (*SignedMetaTx, error) {
	if err := validateAddresses(from, to, token); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, apperr.New(apperr.AmountInvalid, "amount must be a positive integer")
	}
	deadline := time.Now().Add(defaultDeadlineWindow).Unix()
	if paymentReference == "" {
		paymentReference = defaultReference(from, to)
	}
	paymentReference = markReference(paymentReference)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes(),
			"TokenPayment": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "paymentReference", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "TokenPayment",
		Domain:      domain(chain),
		Message: apitypes.TypedDataMessage{
			"from":             from,
			"to":               to,
			"token":            token,
			"amount":           amount.String(),
			"paymentReference": paymentReference,
			"nonce":            fmt.Sprintf("%d", nonce),
			"deadline":         fmt.Sprintf("%d", deadline),
		},
	}

	sig, digest, err := b.vault.SignTyped(typedData)
	if err != nil {
		return nil, err
	}
	return &SignedMetaTx{Digest: digest, Signature: sig, PaymentReference: paymentReference, Deadline: deadline, Nonce: nonce}, nil
}

// BuildBatchNativePayment signs a batch native payment across equal-length
// recipients/amounts arrays.
func (b *Builder) BuildBatchNativePayment(chain models.ChainEntry, from string, recipients []string, amounts []*big.Int, paymentReference string, nonce uint64) (*SignedMetaTx, error) {
	if len(recipients) != len(amounts) {
		return nil, apperr.Newf(apperr.AmountInvalid, "recipients (%d) and amounts (%d) length mismatch", len(recipients), len(amounts))
	}
	if len(recipients) == 0 {
		return nil, apperr.New(apperr.AmountInvalid, "batch payment requires at least one recipient")
	}
	addrs := append([]string{from}, recipients...)
	if err := validateAddresses(addrs...); err != nil {
		return nil, err
	}
	amountStrs := make([]string, len(amounts))
	for i, a := range amounts {
		if a == nil || a.Sign() <= 0 {
			return nil, apperr.Newf(apperr.AmountInvalid, "batch amount at index %d must be positive", i)
		}
		amountStrs[i] = a.String()
	}
	deadline := time.Now().Add(defaultDeadlineWindow).Unix()
	if paymentReference == "" {
		paymentReference = defaultReference(from, recipients[0])
	}
	paymentReference = markReference(paymentReference)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes(),
			"BatchNativePayment": {
				{Name: "from", Type: "address"},
				{Name: "recipients", Type: "address[]"},
				{Name: "amounts", Type: "uint256[]"},
				{Name: "paymentReference", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "BatchNativePayment",
		Domain:      domain(chain),
		Message: apitypes.TypedDataMessage{
			"from":             from,
			"recipients":       toInterfaceSlice(recipients),
			"amounts":          toInterfaceSlice(amountStrs),
			"paymentReference": paymentReference,
			"nonce":            fmt.Sprintf("%d", nonce),
			"deadline":         fmt.Sprintf("%d", deadline),
		},
	}

	sig, digest, err := b.vault.SignTyped(typedData)
	if err != nil {
		return nil, err
	}
	return &SignedMetaTx{Digest: digest, Signature: sig, PaymentReference: paymentReference, Deadline: deadline, Nonce: nonce}, nil
}

// RecoverSigner recovers the address that produced sig over digest, for the
// sign_typed-then-recover round-trip law spec.md §8 requires.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, apperr.New(apperr.SignatureInvalid, "signature must be 65 bytes")
	}
	sigCopy := make([]byte, 65)
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sigCopy)
	if err != nil {
		return common.Address{}, apperr.Newf(apperr.SignatureInvalid, "recovering signer: %v", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func domain(chain models.ChainEntry) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              domainName,
		Version:           domainVersion,
		ChainId:           (*math.HexOrDecimal256)(big.NewInt(chain.NumericChainID)),
		VerifyingContract: chain.ForwarderContract,
	}
}

func domainTypes() []apitypes.Type {
	return []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
}

func defaultReference(from, to string) string {
	return fmt.Sprintf("Payment from %s to %s at %d", from, to, time.Now().UnixMilli())
}

func validateAddresses(addrs ...string) error {
	for _, a := range addrs {
		if !common.IsHexAddress(a) {
			return apperr.Newf(apperr.SignatureInvalid, "invalid address %q", a)
		}
	}
	return nil
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

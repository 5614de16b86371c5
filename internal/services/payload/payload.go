// Package payload implements spec.md §4.12's PayloadSigner: scannable,
// optionally-signed QR payment requests. Canonical JSON and the
// "\x19Ethereum..."-style fixed message prefix are grounded on the
// teacher's walletvault-adjacent signing helpers (arcsign's
// src/chainadapter/ethereum/signer.go personal-sign prefix convention);
// canonicalization itself has no pack library to reach for (no repo in
// the corpus ships a JSON canonicalization package), so it is hand-rolled
// here over encoding/json with a recursive key sort — the one deliberate
// stdlib-only piece of this package, noted in the grounding ledger.
package payload

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	gethaccounts "github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/yourusername/airchainpay/internal/apperr"
	"github.com/yourusername/airchainpay/internal/models"
	"github.com/yourusername/airchainpay/internal/services/walletvault"
)

const (
	signaturePrefix = "AIRCHAINPAY_SIGNATURE\n"
	envelopeVersion = "v1"

	// StrictMaxAge and LenientMaxAge are the two MAX_AGE modes Verify accepts.
	StrictMaxAge  = 5 * time.Minute
	LenientMaxAge = 24 * time.Hour
)

// Request is the semantic content of a scannable payment request.
type Request struct {
	Type             string          `json:"type"`
	To               string          `json:"to"`
	Amount           string          `json:"amount"`
	Chain            models.ChainID  `json:"chain"`
	Token            string          `json:"token,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	Merchant         string          `json:"merchant,omitempty"`
	Location         string          `json:"location,omitempty"`
	MaxAmount        string          `json:"max_amount,omitempty"`
	MinAmount        string          `json:"min_amount,omitempty"`
	Expiry           *time.Time      `json:"expiry,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	Version          string          `json:"version"`
}

// Envelope wraps a signed Request with its recovery metadata.
type Envelope struct {
	Version     string    `json:"version"`
	Signer      string    `json:"signer"`
	Signature   string    `json:"signature"`
	CreatedAt   time.Time `json:"created_at"`
	Chain       models.ChainID `json:"chain"`
	MessageHash string    `json:"message_hash"`
}

// Signed is the full QR payload: the request plus its signature envelope.
// Envelope is nil for an unsigned (accepted-but-unverified) request.
type Signed struct {
	Request  Request   `json:"request"`
	Envelope *Envelope `json:"envelope,omitempty"`
}

// Signer produces and verifies Signed payloads on behalf of one wallet.
type Signer struct {
	vault *walletvault.Vault
}

// New constructs a Signer backed by vault.
func New(vault *walletvault.Vault) *Signer {
	return &Signer{vault: vault}
}

// Canonicalize recursively sorts object keys and serializes req with fixed
// (no extra) whitespace, giving every signer/verifier the same byte string.
func Canonicalize(req Request) ([]byte, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Newf(apperr.PayloadFormat, "encoding payment request: %v", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, apperr.Newf(apperr.PayloadFormat, "decoding payment request: %v", err)
	}
	var buf bytes.Buffer
	if err := canonicalEncode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func canonicalEncode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := canonicalEncode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := canonicalEncode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return apperr.Newf(apperr.PayloadFormat, "encoding value: %v", err)
		}
		buf.Write(b)
	}
	return nil
}

// Sign produces a Signed payload: req stamped with version/created_at, plus
// a signature envelope over its canonical JSON.
func (s *Signer) Sign(req Request) (*Signed, error) {
	req.Version = envelopeVersion
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	canonical, err := Canonicalize(req)
	if err != nil {
		return nil, err
	}
	message := []byte(signaturePrefix + string(canonical))
	hash := crypto.Keccak256(message)

	sig, err := s.vault.SignMessage(message)
	if err != nil {
		return nil, err
	}

	return &Signed{
		Request: req,
		Envelope: &Envelope{
			Version:     envelopeVersion,
			Signer:      s.vault.Address(),
			Signature:   common.Bytes2Hex(sig),
			CreatedAt:   req.CreatedAt,
			Chain:       req.Chain,
			MessageHash: common.Bytes2Hex(hash),
		},
	}, nil
}

// VerifyResult reports the outcome of verifying a Signed payload.
type VerifyResult struct {
	Verified bool
	Reason   string
}

// Verify checks envelope well-formedness, timestamp bounds, signature
// recovery, and message-hash agreement per spec.md §4.12. An unsigned
// payload (nil Envelope) is accepted but reported unverified.
func Verify(signed Signed, maxAge time.Duration, now time.Time) (VerifyResult, error) {
	if signed.Envelope == nil {
		return VerifyResult{Verified: false, Reason: "unsigned"}, nil
	}
	env := signed.Envelope

	if env.CreatedAt.After(now) {
		return VerifyResult{}, apperr.New(apperr.PayloadFuture, "payload created_at is in the future")
	}
	if now.Sub(env.CreatedAt) > maxAge {
		return VerifyResult{}, apperr.New(apperr.PayloadExpired, "payload exceeds max age")
	}

	canonical, err := Canonicalize(signed.Request)
	if err != nil {
		return VerifyResult{}, err
	}
	message := []byte(signaturePrefix + string(canonical))
	hash := crypto.Keccak256(message)
	if common.Bytes2Hex(hash) != env.MessageHash {
		return VerifyResult{}, apperr.New(apperr.PayloadFormat, "message_hash does not match recomputed hash")
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(env.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return VerifyResult{}, apperr.New(apperr.SignatureInvalid, "malformed signature")
	}
	sigCopy := append([]byte(nil), sig...)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	// Sign goes through Vault.SignMessage, which signs the personal-sign
	// hash of message, so recovery uses that same hash.
	pub, err := crypto.SigToPub(gethaccounts.TextHash(message), sigCopy)
	if err != nil {
		return VerifyResult{}, apperr.New(apperr.SignatureInvalid, "signature recovery failed")
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !sameAddress(recovered.Hex(), env.Signer) {
		return VerifyResult{}, apperr.New(apperr.SignatureInvalid, "recovered signer does not match declared signer")
	}

	return VerifyResult{Verified: true}, nil
}

func sameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}

// Package securestore implements the two-tier key-value surface spec.md
// §4.1 describes: a hardware-backed sensitive tier that gates reads behind
// an authentication callback, and an encrypted-at-rest tier that does not.
// It is grounded on the teacher's storage.AtomicWriteFile crash-safe write
// discipline (arcsign's internal/services/storage), generalized from "one
// wallet's encrypted mnemonic file" to "any key the core needs to persist"
// via internal/storage.KVStore, with internal/services/crypto.Seal/Open
// supplying the encryption this core's headless hardware tier is modeled
// with.
package securestore

import (
	"context"
	"errors"

	"github.com/yourusername/airchainpay/internal/apperr"
	"github.com/yourusername/airchainpay/internal/services/crypto"
	"github.com/yourusername/airchainpay/internal/storage"
)

// ErrNotFound is returned when a key has never been Put.
var ErrNotFound = storage.ErrNotFound

// ErrHardwareUnavailable signals that no hardware-backed tier exists on this
// device, so the caller should fall back to the encrypted-at-rest tier.
var ErrHardwareUnavailable = errors.New("securestore: hardware-backed tier unavailable")

// AuthFn is invoked before a sensitive read; a UI layer wires a real device
// prompt (biometric, PIN) into this hook. Returning an error that matches
// context.Canceled signals the user declined and surfaces as
// apperr.AuthCancelled; any other error aborts the read as AuthRequired.
type AuthFn func(ctx context.Context) error

// Store is the encrypted-at-rest KV surface backing both SecureStore tiers.
// Every value is sealed with an Argon2id-derived AES-256-GCM key before
// being written to the underlying KVStore; decryption happens transparently
// on Get. The "hardware-backed" tier is distinguished only by requiring an
// AuthFn on GetSensitive, since this core has no hardware enclave driver of
// its own (spec.md §1 names that as an external collaborator).
type Store struct {
	kv       storage.KVStore
	password string
}

// New wraps kv with encryption keyed by password (the user's unlock password).
func New(kv storage.KVStore, password string) *Store {
	return &Store{kv: kv, password: password}
}

// Get retrieves key without any authentication prompt.
func (s *Store) Get(key string) ([]byte, error) {
	raw, err := s.kv.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return crypto.Decrypt(raw, s.password)
}

// GetSensitive retrieves key after invoking auth. If auth is nil, no prompt
// is required (the caller has already authenticated, e.g. via password
// unlock) and the read proceeds as Get.
func (s *Store) GetSensitive(ctx context.Context, key string, auth AuthFn) ([]byte, error) {
	if auth != nil {
		if err := auth(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, apperr.New(apperr.AuthCancelled, "authentication cancelled")
			}
			return nil, apperr.New(apperr.AuthRequired, err.Error())
		}
	}
	return s.Get(key)
}

// Put encrypts value and stores it under key.
func (s *Store) Put(key string, value []byte) error {
	enc, err := crypto.Encrypt(value, s.password)
	if err != nil {
		return apperr.Newf(apperr.PersistenceFailure, "encrypting %q: %v", key, err)
	}
	if err := s.kv.Put(key, enc); err != nil {
		return apperr.Newf(apperr.PersistenceFailure, "writing %q: %v", key, err)
	}
	return nil
}

// Delete removes key; deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	return s.kv.Delete(key)
}

// ClearBackup deletes the pre-backup-confirmation mnemonic key
// ("temp_seed_phrase" per spec.md §6) once the user has confirmed their
// backup, so the plaintext-adjacent copy does not outlive its purpose.
func (s *Store) ClearBackup(key string) error {
	return s.Delete(key)
}

// Rekey re-encrypts every key under newPassword, for use after a successful
// password change. keys lists the recognized persisted keys (spec.md §6);
// callers pass the subset currently present.
func (s *Store) Rekey(newPassword string, keys []string) error {
	values := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, err := s.Get(k)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		values[k] = v
	}

	old := s.password
	s.password = newPassword
	for k, v := range values {
		if err := s.Put(k, v); err != nil {
			s.password = old
			return err
		}
	}
	return nil
}

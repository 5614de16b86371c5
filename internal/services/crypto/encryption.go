// Package crypto implements the Argon2id + AES-256-GCM encrypted-at-rest
// envelope SecureStore uses for every sensitive value it persists (wallet
// private key, mnemonic). It is kept almost verbatim from the teacher
// repo's internal/services/crypto (arcsign), generalized from
// "EncryptMnemonic"/"DecryptMnemonic" on a hardcoded models.EncryptedMnemonic
// into Encrypt/Decrypt over a self-describing Envelope, since SecureStore
// needs to wrap arbitrary byte strings, not just mnemonics.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	Argon2Time    = 4          // iterations
	Argon2Memory  = 256 * 1024 // 256 MiB in KiB
	Argon2Threads = 4          // threads
	Argon2KeyLen  = 32         // 256-bit key for AES-256
	Argon2SaltLen = 16         // 128-bit salt
	AESNonceLen   = 12         // 96-bit nonce for GCM
)

// Envelope is the self-describing encrypted form of a sensitive byte string.
type Envelope struct {
	Salt          []byte
	Nonce         []byte
	Ciphertext    []byte // includes the 16-byte GCM auth tag
	Argon2Time    uint32
	Argon2Memory  uint32
	Argon2Threads uint8
	Version       uint8
}

// Seal encrypts plaintext using Argon2id-derived AES-256-GCM.
func Seal(plaintext []byte, password string) (*Envelope, error) {
	salt := make([]byte, Argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, Argon2Time, Argon2Memory, Argon2Threads, Argon2KeyLen)
	defer ClearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, AESNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	return &Envelope{
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Argon2Time:    Argon2Time,
		Argon2Memory:  Argon2Memory,
		Argon2Threads: Argon2Threads,
		Version:       1,
	}, nil
}

// Open decrypts an Envelope, returning the plaintext or an error if the
// password is wrong or the envelope has been tampered with.
func Open(env *Envelope, password string) ([]byte, error) {
	if env == nil {
		return nil, errors.New("envelope is nil")
	}
	if len(env.Salt) != Argon2SaltLen {
		return nil, fmt.Errorf("invalid salt length: got %d, want %d", len(env.Salt), Argon2SaltLen)
	}
	if len(env.Nonce) != AESNonceLen {
		return nil, fmt.Errorf("invalid nonce length: got %d, want %d", len(env.Nonce), AESNonceLen)
	}

	key := argon2.IDKey([]byte(password), env.Salt, env.Argon2Time, env.Argon2Memory, env.Argon2Threads, Argon2KeyLen)
	defer ClearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, errors.New("authentication failed: wrong password or corrupted data")
	}
	return plaintext, nil
}

// Serialize encodes an Envelope to a flat binary format:
// [version:1][time:4][memory:4][threads:1][salt:16][nonce:12][ciphertext:variable]
func Serialize(env *Envelope) []byte {
	size := 1 + 4 + 4 + 1 + len(env.Salt) + len(env.Nonce) + len(env.Ciphertext)
	result := make([]byte, size)

	offset := 0
	result[offset] = env.Version
	offset++
	binary.BigEndian.PutUint32(result[offset:], env.Argon2Time)
	offset += 4
	binary.BigEndian.PutUint32(result[offset:], env.Argon2Memory)
	offset += 4
	result[offset] = env.Argon2Threads
	offset++
	copy(result[offset:], env.Salt)
	offset += len(env.Salt)
	copy(result[offset:], env.Nonce)
	offset += len(env.Nonce)
	copy(result[offset:], env.Ciphertext)

	return result
}

// Deserialize parses the binary format Serialize produces.
func Deserialize(data []byte) (*Envelope, error) {
	minSize := 1 + 4 + 4 + 1 + Argon2SaltLen + AESNonceLen
	if len(data) < minSize {
		return nil, fmt.Errorf("invalid encrypted data: size %d < minimum %d", len(data), minSize)
	}

	offset := 0
	version := data[offset]
	offset++
	argon2Time := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	argon2Memory := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	argon2Threads := data[offset]
	offset++

	salt := make([]byte, Argon2SaltLen)
	copy(salt, data[offset:offset+Argon2SaltLen])
	offset += Argon2SaltLen

	nonce := make([]byte, AESNonceLen)
	copy(nonce, data[offset:offset+AESNonceLen])
	offset += AESNonceLen

	ciphertext := make([]byte, len(data)-offset)
	copy(ciphertext, data[offset:])

	return &Envelope{
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Argon2Time:    argon2Time,
		Argon2Memory:  argon2Memory,
		Argon2Threads: argon2Threads,
		Version:       version,
	}, nil
}

// Encrypt encrypts data and returns its serialized Envelope bytes.
func Encrypt(data []byte, password string) ([]byte, error) {
	env, err := Seal(data, password)
	if err != nil {
		return nil, err
	}
	return Serialize(env), nil
}

// Decrypt decrypts serialized Envelope bytes produced by Encrypt.
func Decrypt(encryptedData []byte, password string) ([]byte, error) {
	env, err := Deserialize(encryptedData)
	if err != nil {
		return nil, err
	}
	return Open(env, password)
}

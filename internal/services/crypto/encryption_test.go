package crypto

import (
	"bytes"
	"testing"
)

func TestSealThenOpenRoundTrips(t *testing.T) {
	plaintext := []byte("correct horse battery staple")
	env, err := Seal(plaintext, "pw")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := Open(env, "pw")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, got)
	}
}

func TestOpenRejectsWrongPassword(t *testing.T) {
	env, err := Seal([]byte("secret"), "right")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(env, "wrong"); err == nil {
		t.Fatal("expected an error opening with the wrong password")
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	env, err := Seal([]byte("secret"), "pw")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	env.Ciphertext[0] ^= 0xff
	if _, err := Open(env, "pw"); err == nil {
		t.Fatal("expected an error opening tampered ciphertext")
	}
}

func TestOpenRejectsMalformedSaltOrNonce(t *testing.T) {
	env, err := Seal([]byte("secret"), "pw")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	withBadSalt := *env
	withBadSalt.Salt = env.Salt[:len(env.Salt)-1]
	if _, err := Open(&withBadSalt, "pw"); err == nil {
		t.Fatal("expected an error for a malformed salt length")
	}

	withBadNonce := *env
	withBadNonce.Nonce = env.Nonce[:len(env.Nonce)-1]
	if _, err := Open(&withBadNonce, "pw"); err == nil {
		t.Fatal("expected an error for a malformed nonce length")
	}
}

func TestOpenRejectsNilEnvelope(t *testing.T) {
	if _, err := Open(nil, "pw"); err == nil {
		t.Fatal("expected an error opening a nil envelope")
	}
}

func TestSerializeDeserializeRoundTrips(t *testing.T) {
	env, err := Seal([]byte("secret"), "pw")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	data := Serialize(env)
	restored, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !bytes.Equal(restored.Salt, env.Salt) || !bytes.Equal(restored.Nonce, env.Nonce) ||
		!bytes.Equal(restored.Ciphertext, env.Ciphertext) || restored.Version != env.Version {
		t.Fatalf("round trip mismatch: got %+v, want %+v", restored, env)
	}

	plaintext, err := Open(restored, "pw")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plaintext) != "secret" {
		t.Fatalf("expected %q, got %q", "secret", plaintext)
	}
}

func TestDeserializeRejectsTooShortData(t *testing.T) {
	if _, err := Deserialize([]byte("short")); err == nil {
		t.Fatal("expected an error deserializing truncated data")
	}
}

func TestEncryptDecryptRoundTrips(t *testing.T) {
	plaintext := []byte("a wallet private key scalar")
	encrypted, err := Encrypt(plaintext, "pw")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	decrypted, err := Decrypt(encrypted, "pw")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, decrypted)
	}
}

func TestClearBytesZeroesSlice(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	ClearBytes(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not cleared: %d", i, v)
		}
	}
}

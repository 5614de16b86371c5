package securechannel

import (
	"testing"
	"time"

	"github.com/yourusername/airchainpay/internal/apperr"
)

func pairedManagers(t *testing.T) (initiator, responder *Manager, sessionID string) {
	t.Helper()
	initiator = NewManager()
	responder = NewManager()
	sessionID = "session-1"

	init, err := initiator.BeginInit(sessionID)
	if err != nil {
		t.Fatalf("BeginInit: %v", err)
	}
	resp, err := responder.HandleInit(*init)
	if err != nil {
		t.Fatalf("HandleInit: %v", err)
	}
	confirm, err := initiator.HandleResponse(*resp)
	if err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}
	if err := responder.HandleConfirm(*confirm); err != nil {
		t.Fatalf("HandleConfirm: %v", err)
	}
	return initiator, responder, sessionID
}

func TestHandshakeAuthenticatesBothSides(t *testing.T) {
	initiator, responder, sessionID := pairedManagers(t)

	iSess := initiator.Session(sessionID)
	rSess := responder.Session(sessionID)
	if iSess == nil || !iSess.Authenticated {
		t.Fatal("expected initiator session to be authenticated")
	}
	if rSess == nil || !rSess.Authenticated {
		t.Fatal("expected responder session to be authenticated")
	}
	if string(iSess.SharedKey) != string(rSess.SharedKey) {
		t.Fatal("expected both sides to derive the same shared key")
	}
}

func TestEncryptDecryptRoundTrips(t *testing.T) {
	initiator, responder, sessionID := pairedManagers(t)

	plaintext := []byte(`{"type":"payment_request","amount":"1.0"}`)
	payload, err := initiator.Encrypt(sessionID, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := responder.Decrypt(*payload)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("expected round-tripped plaintext, got %q", got)
	}
}

func TestDecryptRejectsReplayedNonce(t *testing.T) {
	initiator, responder, sessionID := pairedManagers(t)

	payload, err := initiator.Encrypt(sessionID, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := responder.Decrypt(*payload); err != nil {
		t.Fatalf("first Decrypt: %v", err)
	}

	_, err = responder.Decrypt(*payload)
	if !apperr.HasCode(err, apperr.ReplayDetected) {
		t.Fatalf("expected ReplayDetected on a repeated nonce, got %v", err)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	initiator, responder, sessionID := pairedManagers(t)

	payload, err := initiator.Encrypt(sessionID, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	payload.Ciphertext[0] ^= 0xFF

	_, err = responder.Decrypt(*payload)
	if !apperr.HasCode(err, apperr.HmacMismatch) {
		t.Fatalf("expected HmacMismatch on tampered ciphertext, got %v", err)
	}
}

func TestEncryptRejectsUnauthenticatedSession(t *testing.T) {
	m := NewManager()
	if _, err := m.BeginInit("unconfirmed"); err != nil {
		t.Fatalf("BeginInit: %v", err)
	}

	_, err := m.Encrypt("unconfirmed", []byte("hello"))
	if !apperr.HasCode(err, apperr.SessionUnauthenticated) {
		t.Fatalf("expected SessionUnauthenticated, got %v", err)
	}
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	initiator, _, sessionID := pairedManagers(t)

	future := time.Now().Add(10 * time.Minute)
	initiator.Sweep(future)

	if initiator.Session(sessionID) != nil {
		t.Fatal("expected the idle session to be swept")
	}
}

package models

import "time"

// Session is one SecureChannel pairing between this device and a peer.
type Session struct {
	SessionID     string    `json:"sessionId"`
	PeerID        string    `json:"peerId"`
	SharedKey     []byte    `json:"-"`
	HMACKey       []byte    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActivity  time.Time `json:"lastActivity"`
	Authenticated bool      `json:"authenticated"`
	TxNonce       uint64    `json:"txNonce"`
	LastRxNonce   uint64    `json:"lastRxNonce"`
}

// Expired reports whether the session has been idle longer than timeout.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) > timeout
}

// HandshakeState is the SecureChannel pairing state machine, spec.md §9.
type HandshakeState string

const (
	HandshakeAwaitInit     HandshakeState = "await_init"
	HandshakeAwaitResponse HandshakeState = "await_response"
	HandshakeAwaitConfirm  HandshakeState = "await_confirm"
	HandshakeAuthenticated HandshakeState = "authenticated"
)

// HandshakeMessage is one of the three pairing messages (init/response/confirm).
type HandshakeMessage struct {
	SessionID string    `json:"sessionId"`
	PublicKey []byte    `json:"publicKey"`
	Nonce     []byte    `json:"nonce"`
	Timestamp time.Time `json:"timestamp"`
	Signature []byte    `json:"signature"`
}

// EncryptedPayload is an authenticated, replay-protected payment payload
// exchanged once a Session is authenticated.
type EncryptedPayload struct {
	SessionID    string    `json:"sessionId"`
	NonceCounter uint64    `json:"nonceCounter"`
	Ciphertext   []byte    `json:"ciphertext"`
	IV           []byte    `json:"iv"`
	HMAC         []byte    `json:"hmac"`
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
}

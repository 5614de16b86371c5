package models

import "time"

// PaymentRequest is the semantic content of a scannable (QR) payment request,
// spec.md §4.12.
type PaymentRequest struct {
	Type             string    `json:"type"`
	To               string    `json:"to"`
	Amount           string    `json:"amount"`
	Chain            ChainID   `json:"chain"`
	Token            string    `json:"token,omitempty"`
	PaymentReference string    `json:"paymentReference,omitempty"`
	Merchant         string    `json:"merchant,omitempty"`
	Location         string    `json:"location,omitempty"`
	MaxAmount        string    `json:"maxAmount,omitempty"`
	MinAmount        string    `json:"minAmount,omitempty"`
	Expiry           *time.Time `json:"expiry,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	Version          string    `json:"version"`
}

// SignedPaymentRequest wraps a PaymentRequest with its signature envelope.
type SignedPaymentRequest struct {
	Payload       PaymentRequest `json:"payload"`
	SignerAddress string         `json:"signerAddress"`
	Signature     string         `json:"signature"`
	MessageHash   string         `json:"messageHash"`
	Chain         ChainID        `json:"chain"`
	CreatedAt     time.Time      `json:"createdAt"`
	Version       string         `json:"version"`
}

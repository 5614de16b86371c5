// Package utils collects small helpers with no home of their own. NewID is
// grounded on the teacher's utils.GenerateSecureUUID (arcsign), generalized
// from a hand-rolled crypto/rand UUIDv4 to github.com/google/uuid, the
// widely used ecosystem implementation the vocdoni-davinci-node example
// also depends on for the same purpose.
package utils

import "github.com/google/uuid"

// NewID returns a fresh random (v4) UUID string, used as the id for every
// QueuedTx and audit log entry this core creates. Session ids are not made
// here; the caller of securechannel.Manager.BeginInit supplies them.
func NewID() string {
	return uuid.NewString()
}

package protocol

import (
	"crypto/rand"
	"encoding/hex"
)

// NewEndpointID generates a random 16-character hex string identifying one
// connected endpoint for the lifetime of its rendezvous connection.
func NewEndpointID() string {
	b := make([]byte, 8) // 8 bytes = 16 hex characters
	if _, err := rand.Read(b); err != nil {
		// Fallback if rand fails (should be extremely rare)
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}

package forest

import (
	"math/rand"
	"time"
)

// Nonce is a 64-bit one-time cookie handed to a connecting endpoint for
// authentication at add-link time.
//
// Nonces are generated from (wall-clock seconds × random 32-bit value).
// A collision across distinct links is harmless since a nonce is keyed
// per-link; a repeat at the same link before it is consumed is treated
// as astronomically unlikely and is not guarded against.
type Nonce uint64

// NewNonce mints a fresh nonce.
func NewNonce() Nonce {
	return Nonce(uint64(time.Now().Unix())*uint64(1<<32) | uint64(rand.Uint32()))
}

// Package keyvault manages the per-user 256-bit symmetric keys that protect
// audio blobs and stored summaries. Keys are fetched per job, never cached
// across jobs, and never logged.
package keyvault

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/snarg/vox-engine/internal/fault"
)

// KeySize is the symmetric key length in bytes (AES-256).
const KeySize = 32

// Vault fetches and provisions per-user keys.
type Vault interface {
	// GetKey returns the user's 32-byte key. NotFound if none provisioned,
	// Unavailable on transport error.
	GetKey(ctx context.Context, userID string) ([]byte, error)

	// CreateKey generates and stores a fresh random key for the user.
	// AlreadyExists surfaces as Conflict.
	CreateKey(ctx context.Context, userID string) error
}

// newKey returns 32 cryptographically random bytes.
func newKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

func validateKey(key []byte) ([]byte, error) {
	if len(key) != KeySize {
		// Deliberately omits key material from the message.
		return nil, fault.New(fault.Unavailable, fmt.Sprintf("stored key has wrong length %d", len(key)))
	}
	return key, nil
}

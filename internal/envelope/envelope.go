// Package envelope implements the encrypted blob format used for audio
// uploads and stored summaries:
//
//	[IV 16 bytes][ciphertext][GCM tag 16 bytes]
//
// AES-256-GCM with a 128-bit tag and empty AAD. The 16-byte nonce is part of
// the on-disk contract — clients encrypt with a 16-byte IV, so the cipher is
// built with NewGCMWithNonceSize rather than the 12-byte default.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/snarg/vox-engine/internal/fault"
)

const (
	// KeySize is the required symmetric key length (AES-256).
	KeySize = 32
	// NonceSize is the IV length. 12-byte nonces are not accepted.
	NonceSize = 16
	// TagSize is the GCM authentication tag length.
	TagSize = 16
	// Overhead is the minimum valid blob length: IV plus tag around an
	// empty plaintext.
	Overhead = NonceSize + TagSize
)

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fault.New(fault.InvalidInput, fmt.Sprintf("key must be %d bytes, got %d", KeySize, len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return aead, nil
}

// Seal encrypts plaintext under key, producing IV||ciphertext||tag with a
// fresh random IV.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, NonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("read iv: %w", err)
	}
	// Seal appends ciphertext||tag after the IV.
	return aead.Seal(iv, iv, plaintext, nil), nil
}

// Open decrypts an IV||ciphertext||tag blob. Tag mismatch, truncation, or a
// blob shorter than Overhead all surface as IntegrityFailure.
func Open(key, blob []byte) ([]byte, error) {
	if len(blob) < Overhead {
		return nil, fault.New(fault.IntegrityFailure, fmt.Sprintf("blob too short: %d bytes, need at least %d", len(blob), Overhead))
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, fault.Errorf(fault.IntegrityFailure, err, "authentication failed")
	}
	return plaintext, nil
}

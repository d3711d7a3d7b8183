// Package auth verifies the shared secret that unlocks file preview.
//
// Only a bcrypt hash of the key is configured; the plain key is typed by
// the browser user and sent in the X-Preview-Key header.
package auth

import (
	"errors"
	"log"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyKey is returned when hashing an empty key.
var ErrEmptyKey = errors.New("key must not be empty")

// HashKey returns a bcrypt hash of key suitable for preview_key_hash.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// KeyVerifier checks keys against one configured hash.
type KeyVerifier struct {
	hash []byte
}

// NewKeyVerifier creates a verifier for hash. An empty hash rejects every
// key, which disables preview.
func NewKeyVerifier(hash string) *KeyVerifier {
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			log.Printf("auth: preview_key_hash is not a bcrypt hash, preview disabled: %v", err)
			hash = ""
		}
	}
	return &KeyVerifier{hash: []byte(hash)}
}

// Enabled reports whether any key can succeed.
func (v *KeyVerifier) Enabled() bool {
	return len(v.hash) > 0
}

// Verify reports whether key matches the configured hash.
func (v *KeyVerifier) Verify(key string) bool {
	if !v.Enabled() || key == "" {
		return false
	}
	// CompareHashAndPassword is constant time over the hash.
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(key)); err != nil {
		log.Printf("auth: preview key rejected")
		return false
	}
	return true
}

// Package secret holds the key-material primitives: generating plaintext
// API secrets, hashing them for storage, and deriving display prefixes.
// Nothing in this package touches the store.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Namespace is the fixed tag every generated secret starts with. Log
// scrubbers and leak detectors can recognize a keymeter secret by this tag
// without decoding it.
const Namespace = "km_"

// PrefixLen is the number of plaintext characters stored for display.
// Namespace plus 9 hex characters: enough to tell keys apart in a listing,
// far too short to validate or reconstruct a secret.
const PrefixLen = 12

// entropyBytes is the random payload size. 32 bytes comfortably clears the
// 128-bit floor that makes unsalted hashing safe.
const entropyBytes = 32

// Generate produces a new plaintext secret: the namespace tag followed by
// 64 hex characters of cryptographically secure randomness.
func Generate() (string, error) {
	buf := make([]byte, entropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return Namespace + hex.EncodeToString(buf), nil
}

// Hash returns the hex-encoded SHA-256 digest of a plaintext secret. It is
// deterministic, so the digest doubles as the store lookup index. No salt:
// generated secrets carry 256 bits of entropy, which already defeats
// precomputation, and a salted digest could not be looked up by value.
func Hash(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// Prefix returns the display prefix of a plaintext secret: its first
// PrefixLen characters, taken once at issuance.
func Prefix(plaintext string) string {
	if len(plaintext) < PrefixLen {
		return plaintext
	}
	return plaintext[:PrefixLen]
}

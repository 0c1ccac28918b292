// Package fingerprint produces short deterministic digests of normalized
// question text, used as cache keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// hexLen is the number of hex characters kept from the digest. Sixteen
// characters (64 bits) keep the collision risk negligible for a
// per-user response cache.
const hexLen = 16

// Normalize trims surrounding whitespace and lowercases the text, so
// that casing and whitespace variants of the same question share a key.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Sum returns the fingerprint of the normalized text.
func Sum(text string) string {
	h := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(h[:])[:hexLen]
}

// ResponseKey builds the response-cache key for a (backend, question)
// pair. At most one cached answer exists per key; writes overwrite.
func ResponseKey(backendID, question string) string {
	return backendID + "_" + Sum(question)
}

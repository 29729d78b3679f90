// Package checksum computes the content fingerprints used for file integrity
// and for ledger payload identity.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length in hex characters of a fingerprint.
const Size = sha256.Size * 2

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Equal reports whether data fingerprints to expected.
func Equal(data []byte, expected string) bool {
	return Sum(data) == expected
}

// Package sha256 computes content digests used for duplicate detection.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digester implements extract.Digester using SHA-256.
type Digester struct{}

// New returns a SHA-256 digester.
func New() Digester {
	return Digester{}
}

// Digest returns the lowercase hex SHA-256 of text.
func (Digester) Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

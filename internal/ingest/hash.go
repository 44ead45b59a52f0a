package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize lower-cases text, collapses whitespace and trims it.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ContentHash is the hex SHA-256 of the normalized text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

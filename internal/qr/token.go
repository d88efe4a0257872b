package qr

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// NewHash mints a token hash: the SHA-256 of 32 random bytes, lowercase hex
func NewHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// Canonical maps a parsed hash onto the stored form. Issued hashes are lowercase.
func Canonical(hash string) string {
	return strings.ToLower(hash)
}

// ExpiresAt returns the end of a validity window of the given number of calendar months
func ExpiresAt(issued time.Time, months int) time.Time {
	return issued.AddDate(0, months, 0)
}

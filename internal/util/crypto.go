package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateToken returns a random hex token of 2*n characters. Used for
// the API bearer token when the config carries none.
func GenerateToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

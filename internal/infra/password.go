package infra

import (
	"crypto/rand"
	"encoding/hex"
)

const passwordLength = 24

// generatePassword returns a random proxy password. Hex keeps it safe in proxy URLs.
func generatePassword() string {
	b := make([]byte, passwordLength)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	secretPrefix = "cs_"
	secretLength = 32
)

// Generate mints a random client secret suitable for RotateSecret.
func Generate() (string, error) {
	b := make([]byte, secretLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return secretPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

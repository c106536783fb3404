package secrets

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost factor used for client secrets.
const DefaultCost = bcrypt.DefaultCost

// MaxSecretLength is the longest secret bcrypt can hash without truncation.
const MaxSecretLength = 72

var ErrSecretTooLong = errors.New("secret exceeds 72 bytes")

// Hash returns a salted bcrypt hash of a client secret.
func Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret is empty")
	}
	if len(secret) > MaxSecretLength {
		return "", ErrSecretTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// Matches reports whether presented hashes to storedHash. Malformed or empty
// input never matches. bcrypt compares the derived hashes in constant time, so
// timing does not depend on how much of the secret is correct.
func Matches(presented, storedHash string) bool {
	if presented == "" || storedHash == "" || len(presented) > MaxSecretLength {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(presented))
	return err == nil
}

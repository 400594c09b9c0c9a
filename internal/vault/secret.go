package vault

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	secretLength   = 16
	secretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateSecret produces a random API secret meeting the vendor's complexity
// requirements: at least one lowercase letter, one uppercase letter, and one
// digit.
func GenerateSecret() (string, error) {
	for {
		buf := make([]byte, secretLength)
		for i := range buf {
			idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(secretAlphabet))))
			if err != nil {
				return "", fmt.Errorf("failed to generate secret: %w", err)
			}
			buf[i] = secretAlphabet[idx.Int64()]
		}

		secret := string(buf)
		if hasLower(secret) && hasUpper(secret) && hasDigit(secret) {
			return secret, nil
		}
	}
}

func hasLower(s string) bool {
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return true
		}
	}
	return false
}

func hasUpper(s string) bool {
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

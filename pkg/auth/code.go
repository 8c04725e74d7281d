package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	codeMin   = 100000
	codeRange = 900000
)

// GenerateVerificationCode returns a uniformly random six-digit code
func GenerateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// HashCode returns the hex SHA-256 of a verification code. Codes are looked
// up by hash, so the plain value is never stored.
func HashCode(code string) string {
	hash := sha256.Sum256([]byte(code))
	return hex.EncodeToString(hash[:])
}

package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 6
	MaxPasswordLen    = 72 // bcrypt ignores bytes past 72
)

// PasswordValidationError carries a message safe to show to the user
type PasswordValidationError struct {
	Message string
}

func (e *PasswordValidationError) Error() string {
	return e.Message
}

// ValidatePassword enforces the length bounds accepted at signup and
// password change
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return &PasswordValidationError{Message: fmt.Sprintf("Password must be at least %d characters", MinPasswordLen)}
	}
	if len(password) > MaxPasswordLen {
		return &PasswordValidationError{Message: fmt.Sprintf("Password must be at most %d bytes", MaxPasswordLen)}
	}
	return nil
}

// PasswordHasher hashes and verifies passwords with bcrypt at a fixed cost
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher; out-of-range costs fall back to the default
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordHasher{cost: cost}
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func (h *PasswordHasher) Compare(hashedPassword, password string) error {
	return ComparePassword(hashedPassword, password)
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

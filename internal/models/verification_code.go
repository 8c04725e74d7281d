package models

import (
	"time"
)

// VerificationCode is a one-time numeric code proving control of an email.
// Only the SHA-256 of the code is persisted.
type VerificationCode struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CodeHash  string    `json:"-"` // Never expose code hash
	Consumed  bool      `json:"consumed"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the code is older than its validity window.
// The store may still hold expired rows until the sweeper runs.
func (c *VerificationCode) IsExpired(now time.Time, window time.Duration) bool {
	return !now.Before(c.CreatedAt.Add(window))
}

// IsValid checks that the code is neither consumed nor expired
func (c *VerificationCode) IsValid(now time.Time, window time.Duration) bool {
	return !c.Consumed && !c.IsExpired(now, window)
}

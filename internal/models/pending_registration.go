package models

import "time"

// PendingRegistration holds an unconfirmed signup until its email is verified.
// PasswordHash is computed once at staging time and carried verbatim into the
// final user record.
type PendingRegistration struct {
	ID           string
	Email        string
	PasswordHash string
	FullName     string
	PhoneNumber  string
	LicenseKey   string // as typed by the user, resolved only at confirmation
	StagedAt     time.Time
}

// IsExpired reports whether the holding window has elapsed
func (p *PendingRegistration) IsExpired(now time.Time, window time.Duration) bool {
	return !now.Before(p.StagedAt.Add(window))
}

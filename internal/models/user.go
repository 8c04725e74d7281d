package models

import (
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an authenticatable account. Every user is created by consuming
// exactly one license key and carries that key's product fields.
type User struct {
	ID                string
	Email             string
	PasswordHash      string
	FullName          string
	PhoneNumber       string
	LicenseKeyID      string
	ProductID         string
	ProductName       string
	Role              string // "user" or "admin"
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Profile returns the public view of the user
func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		PhoneNumber: u.PhoneNumber,
		ProductID:   u.ProductID,
		ProductName: u.ProductName,
		Role:        u.Role,
	}
}

package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserProfile is the public view of a user returned alongside a session token
type UserProfile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Role        string `json:"role"`
}

// Session is the result of a successful confirmation or login
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      UserProfile `json:"user"`
}

// SignupStarted is returned when a verification code has been sent
type SignupStarted struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/mohitmehta601/agricure/internal/auth"
	"github.com/mohitmehta601/agricure/internal/models"
	"github.com/mohitmehta601/agricure/internal/services"
	pkghttp "github.com/mohitmehta601/agricure/pkg/http"
)

// SignupServiceInterface defines the signup protocol operations
type SignupServiceInterface interface {
	Initiate(ctx context.Context, req services.InitiateRequest) (*models.SignupStarted, error)
	Confirm(ctx context.Context, email, code string) (*models.Session, error)
	Resend(ctx context.Context, email string) error
}

// AuthServiceInterface defines the account operations for existing users
type AuthServiceInterface interface {
	Authenticate(ctx context.Context, email, password string) (*models.Session, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	Logout(ctx context.Context, claims *models.TokenClaims) error
}

// AuthHandler handles signup and authentication HTTP requests
type AuthHandler struct {
	signup SignupServiceInterface
	auth   AuthServiceInterface
}

func NewAuthHandler(signup SignupServiceInterface, authService AuthServiceInterface) *AuthHandler {
	return &AuthHandler{signup: signup, auth: authService}
}

// Request DTOs. Field names follow the existing mobile and web clients.

type SignupRequest struct {
	Email       string `json:"email" validate:"omitempty,email,max=254"`
	Password    string `json:"password"`
	FullName    string `json:"fullName" validate:"max=100"`
	PhoneNumber string `json:"phoneNumber" validate:"max=32"`
	ProductKey  string `json:"productKey" validate:"max=64"`
}

func (r *SignupRequest) normalize() { r.Email = strings.TrimSpace(r.Email) }

type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp" validate:"omitempty,len=6,numeric"`
}

func (r *VerifyOTPRequest) normalize() { r.OTP = strings.TrimSpace(r.OTP) }

type ResendOTPRequest struct {
	Email string `json:"email"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// VerifyOTPResponse is returned when an account has been created
type VerifyOTPResponse struct {
	Message string `json:"message"`
	models.Session
}

type MessageResponse struct {
	Message string `json:"message"`
}

// Signup handles POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	started, err := h.signup.Initiate(r.Context(), services.InitiateRequest{
		Email:       req.Email,
		Password:    req.Password,
		FullName:    req.FullName,
		PhoneNumber: req.PhoneNumber,
		LicenseKey:  req.ProductKey,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, started)
}

// VerifyOTP handles POST /api/auth/verify-otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.signup.Confirm(r.Context(), req.Email, req.OTP)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, VerifyOTPResponse{
		Message: "Email verified successfully! Account created.",
		Session: *session,
	})
}

// ResendOTP handles POST /api/auth/resend-otp
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req ResendOTPRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.signup.Resend(r.Context(), req.Email); err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "OTP resent successfully"})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, session)
}

// UpdatePassword handles POST /api/auth/update-password
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req UpdatePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.auth.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password updated successfully"})
}

// Logout handles POST /api/auth/logout by revoking the presented token
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.auth.Logout(r.Context(), claims); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mohitmehta601/agricure/internal/auth"
	"github.com/mohitmehta601/agricure/internal/metrics"
	"github.com/mohitmehta601/agricure/internal/models"
	pkgauth "github.com/mohitmehta601/agricure/pkg/auth"
	pkglogger "github.com/mohitmehta601/agricure/pkg/logger"
)

// TokenRevocationRepository defines the interface for token revocation operations
type TokenRevocationRepository interface {
	RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthService handles login, password change and logout for existing accounts
type AuthService struct {
	repo        UserRepository
	revokeRepo  TokenRevocationRepository
	tokens      TokenIssuer
	hasher      PasswordHasher
	timing      *auth.TimingDelay
	metrics     *metrics.Metrics
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

func NewAuthService(
	repo UserRepository,
	revokeRepo TokenRevocationRepository,
	tokens TokenIssuer,
	hasher PasswordHasher,
	timing *auth.TimingDelay,
	m *metrics.Metrics,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		repo:        repo,
		revokeRepo:  revokeRepo,
		tokens:      tokens,
		hasher:      hasher,
		timing:      timing,
		metrics:     m,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Authenticate checks the credentials and issues a session token. An unknown
// email and a wrong password are indistinguishable to the caller.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*models.Session, error) {
	start := time.Now()
	email = normalizeEmail(email)

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		s.metrics.ObserveStep(metrics.StepLogin, string(models.KindStoreUnavailable))
		return nil, models.StoreUnavailable(err)
	}

	if user == nil || password == "" || s.hasher.Compare(user.PasswordHash, password) != nil {
		reason := "invalid_password"
		event := pkglogger.AuditEvent{EventType: "login_failed", Email: email}
		if user == nil {
			reason = "unknown_email"
		} else {
			event.UserID = user.ID
		}
		event.FailureReason = reason

		s.logger.Info("login failed: invalid credentials")
		s.auditLogger.LogAuthAttempt(ctx, event)
		s.metrics.ObserveStep(metrics.StepLogin, string(models.KindInvalidCredentials))
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		s.logger.Error("failed to issue token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.StoreUnavailable(err)
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		Success:   true,
	})
	s.metrics.ObserveStep(metrics.StepLogin, "ok")

	return &models.Session{Token: token, ExpiresAt: expiresAt, User: user.Profile()}, nil
}

// ChangePassword re-verifies the current password before storing a new hash
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return models.NewError(models.KindMissingField, "Current password and new password are required")
	}
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return models.NewError(models.KindMissingField, err.Error())
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.NewError(models.KindInvalidCredentials, "User not found")
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return models.StoreUnavailable(err)
	}

	if err := s.hasher.Compare(user.PasswordHash, currentPassword); err != nil {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "password_change",
			UserID:        userID,
			FailureReason: "current_password_mismatch",
		})
		return models.NewError(models.KindInvalidCredentials, "Current password is incorrect")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.StoreUnavailable(err)
	}

	if err := s.repo.UpdatePassword(ctx, userID, hash); err != nil {
		s.logger.Error("failed to update password", slog.String("user_id", userID), slog.Any("error", err))
		return models.StoreUnavailable(err)
	}

	s.logger.Info("password changed", slog.String("user_id", userID))
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "password_change",
		UserID:    userID,
		Success:   true,
	})
	return nil
}

// Logout revokes the presented token until it would have expired anyway
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims) error {
	if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return models.NewError(models.KindInvalidCredentials, "Invalid token")
	}

	if err := s.revokeRepo.RevokeToken(ctx, claims.ID, claims.UserID, claims.ExpiresAt.Time, "logout"); err != nil {
		s.logger.Error("failed to revoke token", slog.String("jti", claims.ID), slog.Any("error", err))
		return models.StoreUnavailable(err)
	}

	s.logger.Info("user logged out", slog.String("user_id", claims.UserID))
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "logout",
		UserID:    claims.UserID,
		Success:   true,
	})
	return nil
}

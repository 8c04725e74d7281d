package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mohitmehta601/agricure/internal/models"
	pkghttp "github.com/mohitmehta601/agricure/pkg/http"
)

type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
	// accountContextKey holds the stored user loaded by RequireCurrentCredentials
	accountContextKey contextKey = "account"
)

// TokenRevocationChecker defines the interface for checking if tokens are revoked
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// UserRepository fetches the current role of a token's user
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AuthMiddleware validates bearer tokens, rejects revoked ones and injects
// the claims into the request context. A failed revocation lookup denies
// access.
func AuthMiddleware(tm *TokenManager, revocationChecker TokenRevocationChecker, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := BearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "Access denied. No token provided.")
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "Invalid token")
				return
			}

			if revocationChecker != nil {
				revoked, err := revocationChecker.IsTokenRevoked(r.Context(), claims.ID)
				if err != nil {
					logger.Error("token revocation check failed", slog.Any("error", err))
					pkghttp.WriteServiceUnavailable(w, "Unable to verify token status")
					return
				}
				if revoked {
					pkghttp.WriteUnauthorized(w, "Token has been revoked")
					return
				}
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCurrentCredentials rejects tokens whose account no longer exists
// or that were issued before the account's last password change. Must run
// after AuthMiddleware.
func RequireCurrentCredentials(userRepo UserRepository, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "Unauthorized")
				return
			}

			user, ok := loadAccount(w, r, userRepo, claims)
			if !ok {
				return
			}

			if issuedBeforePasswordChange(claims, user) {
				logger.Info("token rejected: issued before password change", slog.String("user_id", user.ID))
				pkghttp.WriteUnauthorized(w, "Token is no longer valid. Please log in again.")
				return
			}

			ctx := context.WithValue(r.Context(), accountContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// issuedBeforePasswordChange compares at whole seconds, the precision of
// the token's iat claim
func issuedBeforePasswordChange(claims *models.TokenClaims, user *models.User) bool {
	if user.PasswordChangedAt == nil {
		return false
	}
	if claims.IssuedAt == nil {
		return true
	}
	return claims.IssuedAt.Time.Before(user.PasswordChangedAt.Truncate(time.Second))
}

func loadAccount(w http.ResponseWriter, r *http.Request, userRepo UserRepository, claims *models.TokenClaims) (*models.User, bool) {
	if user, ok := r.Context().Value(accountContextKey).(*models.User); ok {
		return user, true
	}

	user, err := userRepo.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "Unauthorized")
			return nil, false
		}
		pkghttp.WriteInternalError(w, "Something went wrong. Please try again.")
		return nil, false
	}
	return user, true
}

// RequireRole enforces role-based access. The role is read from the store
// rather than the token so that a promotion or demotion applies at once.
func RequireRole(userRepo UserRepository, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "Unauthorized")
				return
			}

			user, ok := loadAccount(w, r, userRepo, claims)
			if !ok {
				return
			}

			if user.Role != role {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

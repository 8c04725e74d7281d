package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/mohitmehta601/agricure/internal/models"
	pkghttp "github.com/mohitmehta601/agricure/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	IPConfig          *pkghttp.IPConfig
}

// DefaultAuthRateLimit returns the limit for the public signup and login routes
func DefaultAuthRateLimit(ipConfig *pkghttp.IPConfig) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		IPConfig:          ipConfig,
	}
}

// RateLimitByIP limits requests per client address. Forwarding headers are
// only trusted from configured proxies.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again later.")
		}),
		httprate.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			pkghttp.WriteInternalError(w, models.ErrStoreUnavailable.Message)
		}),
	)
}

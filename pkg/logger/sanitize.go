package logger

import (
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@*****.com")
func SanitizedEmail(email string) string {
	username, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	if len(username) > 1 {
		username = username[:1] + strings.Repeat("*", len(username)-1)
	}

	// Keep the TLD only
	if i := strings.LastIndex(domain, "."); i > 0 {
		domain = strings.Repeat("*", i) + domain[i:]
	}

	return username + "@" + domain
}

var sensitiveParams = []string{"password", "token", "secret", "otp", "code", "key", "email"}

// SanitizeQueryString reports whether a raw query carries a parameter that
// must not reach the logs
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}

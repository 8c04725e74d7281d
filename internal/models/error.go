package models

import "errors"

// Store-level sentinel errors returned by repositories
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// Kind classifies a failure surfaced by the signup and account services.
// The set is closed; callers branch on Kind rather than on message text.
type Kind string

const (
	KindMissingField         Kind = "missing_field"
	KindDuplicateIdentity    Kind = "duplicate_identity"
	KindInvalidLicense       Kind = "invalid_license"
	KindAlreadyUsed          Kind = "already_used"
	KindInvalidOrExpiredCode Kind = "invalid_or_expired_code"
	KindPendingNotFound      Kind = "pending_not_found"
	KindDeliveryFailed       Kind = "delivery_failed"
	KindInvalidCredentials   Kind = "invalid_credentials"
	KindRateLimited          Kind = "rate_limited"
	KindStoreUnavailable     Kind = "store_unavailable"
)

// Error is a kinded failure with a terse, user-facing message.
// Err holds the underlying cause for logging and is never shown to users.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, models.ErrInvalidLicense) holds regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds a kinded error with a custom message
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Canonical kinded errors with their default messages
var (
	ErrMissingField         = NewError(KindMissingField, "Required field is missing")
	ErrDuplicateIdentity    = NewError(KindDuplicateIdentity, "Email already registered")
	ErrInvalidLicense       = NewError(KindInvalidLicense, "Invalid product key")
	ErrAlreadyUsed          = NewError(KindAlreadyUsed, "Product key has already been used")
	ErrInvalidOrExpiredCode = NewError(KindInvalidOrExpiredCode, "Invalid or expired OTP")
	ErrPendingNotFound      = NewError(KindPendingNotFound, "User data not found. Please sign up again.")
	ErrDeliveryFailed       = NewError(KindDeliveryFailed, "Failed to send verification email. Please try again.")
	ErrInvalidCredentials   = NewError(KindInvalidCredentials, "Invalid credentials")
	ErrRateLimited          = NewError(KindRateLimited, "Please wait before requesting another code")
	ErrStoreUnavailable     = NewError(KindStoreUnavailable, "Something went wrong. Please try again.")
)

// StoreUnavailable wraps an unexpected store failure without exposing it
func StoreUnavailable(cause error) *Error {
	return &Error{Kind: KindStoreUnavailable, Message: ErrStoreUnavailable.Message, Err: cause}
}

// KindOf returns the kind carried by err, or KindStoreUnavailable when err
// is not a kinded error.
func KindOf(err error) Kind {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind
	}
	return KindStoreUnavailable
}

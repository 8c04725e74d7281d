package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohitmehta601/agricure/internal/metrics"
	"github.com/mohitmehta601/agricure/internal/models"
	pkgauth "github.com/mohitmehta601/agricure/pkg/auth"
	pkglogger "github.com/mohitmehta601/agricure/pkg/logger"
)

// UserRepository defines the credential store operations used by the services
type UserRepository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// LicenseKeyRepository defines the license registry operations
type LicenseKeyRepository interface {
	GetByKey(ctx context.Context, key string) (*models.LicenseKey, error)
	GetUnusedByKey(ctx context.Context, key string) (*models.LicenseKey, error)
	Consume(ctx context.Context, key, consumerID string) (*models.LicenseKey, error)
	Insert(ctx context.Context, p models.LicenseKeyProvision) (bool, error)
	Deactivate(ctx context.Context, id string) (*models.LicenseKey, error)
	DeactivateByKey(ctx context.Context, key string) (*models.LicenseKey, error)
	Stats(ctx context.Context) (*models.LicenseStats, error)
	List(ctx context.Context, limit, offset int) ([]*models.LicenseKeyWithConsumer, error)
}

// PendingRegistrationRepository defines the staging store operations
type PendingRegistrationRepository interface {
	Create(ctx context.Context, p *models.PendingRegistration) (*models.PendingRegistration, error)
	GetByEmail(ctx context.Context, email string, window time.Duration) (*models.PendingRegistration, error)
	DeleteByEmail(ctx context.Context, email string) error
	CleanupExpired(ctx context.Context, window time.Duration) (int64, error)
}

// VerificationCodeRepository defines the verification code store operations
type VerificationCodeRepository interface {
	Create(ctx context.Context, email, codeHash string) (*models.VerificationCode, error)
	FindLatestUnconsumed(ctx context.Context, email, codeHash string, window time.Duration) (*models.VerificationCode, error)
	MarkConsumed(ctx context.Context, id string) error
	DeleteByEmail(ctx context.Context, email string) error
	CleanupExpired(ctx context.Context, window time.Duration) (int64, error)
}

// Transactor runs fn atomically. Repositories called with the ctx handed to
// fn take part in the transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// TokenIssuer creates session tokens
type TokenIssuer interface {
	Issue(user *models.User) (string, time.Time, error)
}

// PasswordHasher hashes and verifies passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) error
}

// ResendThrottle enforces a cooldown between resends for an email
type ResendThrottle interface {
	Allow(ctx context.Context, email string, cooldown time.Duration) (bool, error)
	Release(ctx context.Context, email string) error
}

// SignupConfig holds the protocol windows
type SignupConfig struct {
	OTPTTL         time.Duration
	PendingTTL     time.Duration
	NotifyTimeout  time.Duration
	ResendCooldown time.Duration
}

// SignupDeps wires the signup orchestrator. Throttle and Metrics are optional.
type SignupDeps struct {
	Users       UserRepository
	Licenses    LicenseKeyRepository
	Pending     PendingRegistrationRepository
	Codes       VerificationCodeRepository
	Tx          Transactor
	Email       EmailService
	Tokens      TokenIssuer
	Hasher      PasswordHasher
	Throttle    ResendThrottle
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	AuditLogger *pkglogger.AuditLogger
	Config      SignupConfig
}

// SignupService runs the product-key-gated signup protocol:
// initiate stages a registration and mails a code, confirm turns it into an
// account while consuming the license key, resend replaces the code.
type SignupService struct {
	users       UserRepository
	licenses    LicenseKeyRepository
	pending     PendingRegistrationRepository
	codes       VerificationCodeRepository
	tx          Transactor
	email       EmailService
	tokens      TokenIssuer
	hasher      PasswordHasher
	throttle    ResendThrottle
	metrics     *metrics.Metrics
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	cfg         SignupConfig

	now          func() time.Time
	newID        func() string
	generateCode func() (string, error)
}

func NewSignupService(d SignupDeps) *SignupService {
	if d.Config.NotifyTimeout <= 0 {
		d.Config.NotifyTimeout = 10 * time.Second
	}

	return &SignupService{
		users:        d.Users,
		licenses:     d.Licenses,
		pending:      d.Pending,
		codes:        d.Codes,
		tx:           d.Tx,
		email:        d.Email,
		tokens:       d.Tokens,
		hasher:       d.Hasher,
		throttle:     d.Throttle,
		metrics:      d.Metrics,
		logger:       d.Logger,
		auditLogger:  d.AuditLogger,
		cfg:          d.Config,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
		generateCode: pkgauth.GenerateVerificationCode,
	}
}

// InitiateRequest is the data captured at signup
type InitiateRequest struct {
	Email       string
	Password    string
	FullName    string
	PhoneNumber string
	LicenseKey  string
}

func (r InitiateRequest) normalized() InitiateRequest {
	r.Email = normalizeEmail(r.Email)
	r.FullName = strings.TrimSpace(r.FullName)
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
	r.LicenseKey = strings.TrimSpace(r.LicenseKey)
	return r
}

func (r InitiateRequest) validate() error {
	switch {
	case r.LicenseKey == "":
		return models.NewError(models.KindMissingField, "Product key is required")
	case r.PhoneNumber == "":
		return models.NewError(models.KindMissingField, "Phone number is required")
	case r.Email == "":
		return models.NewError(models.KindMissingField, "Email is required")
	case r.FullName == "":
		return models.NewError(models.KindMissingField, "Full name is required")
	}

	if err := pkgauth.ValidatePassword(r.Password); err != nil {
		return models.NewError(models.KindMissingField, err.Error())
	}

	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Initiate validates the signup, replaces any earlier staging for the email
// and sends a fresh code. If the code cannot be delivered nothing staged by
// this call survives.
func (s *SignupService) Initiate(ctx context.Context, req InitiateRequest) (*models.SignupStarted, error) {
	req = req.normalized()
	if err := req.validate(); err != nil {
		return nil, s.fail(ctx, metrics.StepInitiate, req.Email, err)
	}

	exists, err := s.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, s.fail(ctx, metrics.StepInitiate, req.Email, fmt.Errorf("check existing user: %w", err))
	}
	if exists {
		return nil, s.fail(ctx, metrics.StepInitiate, req.Email, models.ErrDuplicateIdentity)
	}

	// Read-only availability check; the key is only reserved at confirmation
	if _, err := s.licenses.GetUnusedByKey(ctx, req.LicenseKey); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			err = models.NewError(models.KindInvalidLicense, "Invalid or already used product key")
		}
		return nil, s.fail(ctx, metrics.StepInitiate, req.Email, err)
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, s.fail(ctx, metrics.StepInitiate, req.Email, err)
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, s.fail(ctx, metrics.StepInitiate, req.Email, err)
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.pending.DeleteByEmail(ctx, req.Email); err != nil {
			return fmt.Errorf("delete previous registration: %w", err)
		}
		if err := s.codes.DeleteByEmail(ctx, req.Email); err != nil {
			return fmt.Errorf("delete previous codes: %w", err)
		}

		_, err := s.pending.Create(ctx, &models.PendingRegistration{
			Email:        req.Email,
			PasswordHash: passwordHash,
			FullName:     req.FullName,
			PhoneNumber:  req.PhoneNumber,
			LicenseKey:   req.LicenseKey,
		})
		if err != nil {
			if errors.Is(err, models.ErrConflict) {
				return models.NewError(models.KindDuplicateIdentity, "A signup for this email is already in progress")
			}
			return fmt.Errorf("stage registration: %w", err)
		}

		if _, err := s.codes.Create(ctx, req.Email, pkgauth.HashCode(code)); err != nil {
			return fmt.Errorf("store verification code: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, metrics.StepInitiate, req.Email, err)
	}

	if err := s.deliver(ctx, req.Email, code); err != nil {
		s.discardStaging(ctx, req.Email)
		return nil, s.fail(ctx, metrics.StepInitiate, req.Email, deliveryFailed(err))
	}

	s.succeed(ctx, metrics.StepInitiate, req.Email, "")
	return &models.SignupStarted{
		Email:   req.Email,
		Message: "OTP sent to your email. Please verify to complete registration.",
	}, nil
}

// Confirm verifies the code and creates the account. License consumption,
// user creation, code consumption and removal of the staging record commit
// together or not at all.
func (s *SignupService) Confirm(ctx context.Context, email, code string) (*models.Session, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return nil, s.fail(ctx, metrics.StepConfirm, email, models.NewError(models.KindMissingField, "Email and OTP are required"))
	}

	now := s.now()

	vc, err := s.codes.FindLatestUnconsumed(ctx, email, pkgauth.HashCode(code), s.cfg.OTPTTL)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			err = models.ErrInvalidOrExpiredCode
		}
		return nil, s.fail(ctx, metrics.StepConfirm, email, err)
	}
	if !vc.IsValid(now, s.cfg.OTPTTL) {
		return nil, s.fail(ctx, metrics.StepConfirm, email, models.ErrInvalidOrExpiredCode)
	}

	pending, err := s.pending.GetByEmail(ctx, email, s.cfg.PendingTTL)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			err = models.ErrPendingNotFound
		}
		return nil, s.fail(ctx, metrics.StepConfirm, email, err)
	}
	if pending.IsExpired(now, s.cfg.PendingTTL) {
		return nil, s.fail(ctx, metrics.StepConfirm, email, models.ErrPendingNotFound)
	}

	userID := s.newID()
	var user *models.User

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		key, err := s.consumeLicense(ctx, pending.LicenseKey, userID)
		if err != nil {
			return err
		}

		user, err = s.users.Create(ctx, &models.User{
			ID:           userID,
			Email:        pending.Email,
			PasswordHash: pending.PasswordHash,
			FullName:     pending.FullName,
			PhoneNumber:  pending.PhoneNumber,
			LicenseKeyID: key.ID,
			ProductID:    key.ProductID,
			ProductName:  key.ProductName,
			Role:         models.RoleUser,
		})
		if err != nil {
			if errors.Is(err, models.ErrConflict) {
				return models.ErrDuplicateIdentity
			}
			return fmt.Errorf("create user: %w", err)
		}

		if err := s.codes.MarkConsumed(ctx, vc.ID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrInvalidOrExpiredCode
			}
			return fmt.Errorf("consume verification code: %w", err)
		}

		if err := s.pending.DeleteByEmail(ctx, email); err != nil {
			return fmt.Errorf("delete pending registration: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, metrics.StepConfirm, email, err)
	}

	s.metrics.LicenseConsumed()
	s.succeed(ctx, metrics.StepConfirm, email, user.ID)

	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		// The account exists; the user can still log in
		return nil, s.fail(ctx, metrics.StepConfirm, email, fmt.Errorf("issue token: %w", err))
	}

	return &models.Session{Token: token, ExpiresAt: expiresAt, User: user.Profile()}, nil
}

// consumeLicense reserves key for consumerID and classifies a refusal.
// Must run inside the confirmation transaction.
func (s *SignupService) consumeLicense(ctx context.Context, key, consumerID string) (*models.LicenseKey, error) {
	consumed, err := s.licenses.Consume(ctx, key, consumerID)
	if err == nil {
		return consumed, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("consume license key: %w", err)
	}

	current, err := s.licenses.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidLicense
		}
		return nil, fmt.Errorf("classify license key: %w", err)
	}

	switch {
	case !current.IsActive:
		return nil, models.ErrInvalidLicense
	case current.IsUsed:
		return nil, models.ErrAlreadyUsed
	default:
		return nil, models.ErrInvalidLicense
	}
}

// Resend replaces the verification code for a pending registration. A
// delivery failure leaves the registration in place.
func (s *SignupService) Resend(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return s.fail(ctx, metrics.StepResend, email, models.NewError(models.KindMissingField, "Email is required"))
	}

	pending, err := s.pending.GetByEmail(ctx, email, s.cfg.PendingTTL)
	if err == nil && pending.IsExpired(s.now(), s.cfg.PendingTTL) {
		err = models.ErrNotFound
	}
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			err = models.NewError(models.KindPendingNotFound, "No pending registration found for this email")
		}
		return s.fail(ctx, metrics.StepResend, email, err)
	}

	// Any failure after the cooldown is taken gives it back
	held := false
	if s.throttle != nil && s.cfg.ResendCooldown > 0 {
		allowed, err := s.throttle.Allow(ctx, email, s.cfg.ResendCooldown)
		if err != nil {
			s.logger.Warn("resend throttle unavailable, allowing resend",
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.Any("error", err))
		} else if !allowed {
			return s.fail(ctx, metrics.StepResend, email, models.ErrRateLimited)
		} else {
			held = true
		}
	}

	code, err := s.generateCode()
	if err != nil {
		s.releaseCooldown(ctx, email, held)
		return s.fail(ctx, metrics.StepResend, email, err)
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.codes.DeleteByEmail(ctx, email); err != nil {
			return fmt.Errorf("delete previous codes: %w", err)
		}
		if _, err := s.codes.Create(ctx, email, pkgauth.HashCode(code)); err != nil {
			return fmt.Errorf("store verification code: %w", err)
		}
		return nil
	})
	if err != nil {
		s.releaseCooldown(ctx, email, held)
		return s.fail(ctx, metrics.StepResend, email, err)
	}

	if err := s.deliver(ctx, email, code); err != nil {
		s.releaseCooldown(ctx, email, held)
		return s.fail(ctx, metrics.StepResend, email, deliveryFailed(err))
	}

	s.succeed(ctx, metrics.StepResend, email, "")
	return nil
}

func (s *SignupService) releaseCooldown(ctx context.Context, email string, held bool) {
	if !held {
		return
	}
	if err := s.throttle.Release(context.WithoutCancel(ctx), email); err != nil {
		s.logger.Warn("failed to release resend cooldown", slog.Any("error", err))
	}
}

// deliver sends the code, bounded by the notify timeout
func (s *SignupService) deliver(ctx context.Context, email, code string) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()

	err := s.email.SendVerificationCode(sendCtx, email, code, s.cfg.OTPTTL)
	s.metrics.EmailDelivery(err == nil)
	return err
}

// discardStaging removes what Initiate staged for email. It runs even if the
// request context was cancelled.
func (s *SignupService) discardStaging(ctx context.Context, email string) {
	ctx = context.WithoutCancel(ctx)

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.pending.DeleteByEmail(ctx, email); err != nil {
			return err
		}
		return s.codes.DeleteByEmail(ctx, email)
	})
	if err != nil {
		s.logger.Error("failed to discard staged registration after delivery failure",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
	}
}

func deliveryFailed(cause error) error {
	return &models.Error{Kind: models.KindDeliveryFailed, Message: models.ErrDeliveryFailed.Message, Err: cause}
}

// fail records a failed step and returns an error safe to show the caller.
// Unkinded errors are logged and replaced by StoreUnavailable.
func (s *SignupService) fail(ctx context.Context, step, email string, err error) error {
	var kerr *models.Error
	if !errors.As(err, &kerr) {
		s.logger.Error("signup step failed",
			slog.String("step", step),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		kerr = models.StoreUnavailable(err)
	} else if kerr.Err != nil {
		s.logger.Warn("signup step failed",
			slog.String("step", step),
			slog.String("kind", string(kerr.Kind)),
			slog.Any("error", kerr.Err))
	}

	s.metrics.ObserveStep(step, string(kerr.Kind))
	s.auditLogger.LogSignup(ctx, pkglogger.AuditEvent{
		EventType:     "signup_" + step,
		Email:         email,
		Success:       false,
		FailureReason: string(kerr.Kind),
	})
	return kerr
}

func (s *SignupService) succeed(ctx context.Context, step, email, userID string) {
	s.metrics.ObserveStep(step, "ok")
	s.auditLogger.LogSignup(ctx, pkglogger.AuditEvent{
		EventType: "signup_" + step,
		Email:     email,
		UserID:    userID,
		Success:   true,
	})
	s.logger.Info("signup step completed",
		slog.String("step", step),
		slog.String("email", pkglogger.SanitizedEmail(email)))
}

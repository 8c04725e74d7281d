package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security-relevant account event
type AuditEvent struct {
	EventType     string
	UserID        string
	Email         string // masked before logging
	IPAddress     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes audit records through the application logger
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// LogAuthAttempt records a login, logout or password change
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, event AuditEvent) {
	al.log(ctx, "auth", event)
}

// LogSignup records a step of the signup protocol: initiate, resend, confirm
func (al *AuditLogger) LogSignup(ctx context.Context, event AuditEvent) {
	al.log(ctx, "signup", event)
}

// LogLicenseAction records administrative changes to the key pool
func (al *AuditLogger) LogLicenseAction(ctx context.Context, event AuditEvent) {
	al.log(ctx, "license", event)
}

func (al *AuditLogger) log(ctx context.Context, auditType string, event AuditEvent) {
	if al == nil || al.logger == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

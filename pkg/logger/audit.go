package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Audit event types
const (
	EventLoginAttempt     = "login_attempt"
	EventLoginDenied      = "login_denied"
	EventMagicLinkRequest = "magic_link_request"
	EventMagicLinkDenied  = "magic_link_denied"
	EventLockout          = "lockout"
	EventCaptchaVerified  = "captcha_verified"
	EventLimitsReset      = "limits_reset"
	EventMFAEnroll        = "mfa_enroll"
	EventMFAVerify        = "mfa_verify"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType  string
	Identifier string // email, masked before logging
	IPAddress  string
	UserAgent  string
	Success    bool
	Reason     string
	Metadata   map[string]string
}

// AuditLogger emits structured security audit records. Every record gets
// its own event id so downstream pipelines can deduplicate.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Log writes one audit record. Failed events log at Warn so they stand
// out in aggregation.
func (al *AuditLogger) Log(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth_security"),
		slog.String("event_id", uuid.NewString()),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Identifier != "" {
		attrs = append(attrs, slog.String("identifier", SanitizedEmail(event.Identifier)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

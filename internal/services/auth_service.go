package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelhq/warden/internal/circuit"
	"github.com/kestrelhq/warden/internal/models"
	"github.com/kestrelhq/warden/internal/ratelimit"
	"github.com/kestrelhq/warden/internal/store"
	pkgauth "github.com/kestrelhq/warden/pkg/auth"
	pkglogger "github.com/kestrelhq/warden/pkg/logger"
)

const magicLinkTTL = 15 * time.Minute

// UserStore is the slice of the user repository the auth flows need.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	TouchLastLogin(ctx context.Context, userID string, when time.Time) error
}

// AttemptArchive records admission events durably.
type AttemptArchive interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
}

// AuthService runs the login and magic-link flows through the admission
// core. Every attempt, allowed or denied, lands in the archive; archive
// failures are logged but never block the flow.
type AuthService struct {
	users        UserStore
	limits       *ratelimit.Service
	archive      AttemptArchive
	email        EmailSender
	emailBreaker *circuit.Breaker
	kv           store.Store
	audit        *pkglogger.AuditLogger
	logger       *slog.Logger
	archiveTTL   time.Duration
}

func NewAuthService(
	users UserStore,
	limits *ratelimit.Service,
	archive AttemptArchive,
	email EmailSender,
	emailBreaker *circuit.Breaker,
	kv store.Store,
	audit *pkglogger.AuditLogger,
	logger *slog.Logger,
	archiveTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:        users,
		limits:       limits,
		archive:      archive,
		email:        email,
		emailBreaker: emailBreaker,
		kv:           kv,
		audit:        audit,
		logger:       logger,
		archiveTTL:   archiveTTL,
	}
}

// LoginResult is returned on a successful credential check.
type LoginResult struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	MFARequired bool   `json:"mfa_required"`
}

// Login checks admission, then credentials. Denials and failures are
// indistinguishable to the caller beyond their error class; account
// existence is never revealed.
func (s *AuthService) Login(ctx context.Context, email, password, ipAddress, userAgent string) (*LoginResult, error) {
	email = ratelimit.NormalizeIdentifier(email)
	guard := s.limits.Guard(email)

	if guard.IsLocked() {
		s.recordAttempt(ctx, email, models.AttemptKindLogin, ipAddress, userAgent, false, true)
		s.audit.Log(pkglogger.AuditEvent{
			EventType:  pkglogger.EventLoginDenied,
			Identifier: email,
			IPAddress:  ipAddress,
			UserAgent:  userAgent,
			Reason:     "locked",
		})
		return nil, models.ErrAccountLocked
	}

	if guard.ShouldShowCaptcha() {
		s.audit.Log(pkglogger.AuditEvent{
			EventType:  pkglogger.EventLoginDenied,
			Identifier: email,
			IPAddress:  ipAddress,
			UserAgent:  userAgent,
			Reason:     "captcha_required",
		})
		return nil, models.ErrCaptchaRequired
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("user lookup failed", slog.Any("error", err))
		}
		// Unknown accounts still consume attempts so probing is as
		// expensive as guessing.
		s.failLogin(ctx, guard, email, ipAddress, userAgent)
		return nil, models.ErrUnauthorized
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.failLogin(ctx, guard, email, ipAddress, userAgent)
		return nil, models.ErrUnauthorized
	}

	guard.ResetLoginAttempts()
	s.recordAttempt(ctx, email, models.AttemptKindLogin, ipAddress, userAgent, true, false)

	now := time.Now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Error("failed to update last login", slog.Any("error", err))
	}

	s.audit.Log(pkglogger.AuditEvent{
		EventType:  pkglogger.EventLoginAttempt,
		Identifier: email,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Success:    true,
	})

	return &LoginResult{
		UserID:      user.ID,
		Name:        user.Name,
		MFARequired: user.MFAEnrolled(),
	}, nil
}

func (s *AuthService) failLogin(ctx context.Context, guard *ratelimit.Guard, email, ipAddress, userAgent string) {
	lockedNow := guard.TrackLoginAttempt()
	s.recordAttempt(ctx, email, models.AttemptKindLogin, ipAddress, userAgent, false, false)
	s.audit.Log(pkglogger.AuditEvent{
		EventType:  pkglogger.EventLoginAttempt,
		Identifier: email,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Success:    false,
		Reason:     "invalid_credentials",
	})
	if lockedNow {
		s.audit.Log(pkglogger.AuditEvent{
			EventType:  pkglogger.EventLockout,
			Identifier: email,
			IPAddress:  ipAddress,
			Metadata:   map[string]string{"level": fmt.Sprintf("%d", guard.LockoutLevel())},
		})
	}
}

// RequestMagicLink admits and dispatches a one-time sign-in link. The
// window is only charged after the send actually goes out.
func (s *AuthService) RequestMagicLink(ctx context.Context, email, ipAddress, userAgent string) error {
	email = ratelimit.NormalizeIdentifier(email)
	guard := s.limits.Guard(email)

	if !guard.CheckMagicLink() {
		s.recordAttempt(ctx, email, models.AttemptKindMagicLink, ipAddress, userAgent, false, true)
		s.audit.Log(pkglogger.AuditEvent{
			EventType:  pkglogger.EventMagicLinkDenied,
			Identifier: email,
			IPAddress:  ipAddress,
			Metadata:   map[string]string{"cooldown_seconds": fmt.Sprintf("%d", guard.RateLimitCooldown())},
		})
		return models.ErrRateLimitExceeded
	}

	token, err := s.issueMagicToken(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to issue magic link token: %w", err)
	}

	err = s.emailBreaker.Execute(ctx, func(ctx context.Context) error {
		return s.email.SendMagicLink(ctx, email, token)
	})
	if err != nil {
		var openErr *circuit.OpenError
		if errors.As(err, &openErr) {
			s.logger.Warn("magic link send blocked by open circuit",
				slog.Duration("retry_after", openErr.RetryAfter))
		}
		return fmt.Errorf("failed to send magic link: %w", err)
	}

	guard.TrackMagicLinkRequest()
	s.recordAttempt(ctx, email, models.AttemptKindMagicLink, ipAddress, userAgent, true, false)
	s.audit.Log(pkglogger.AuditEvent{
		EventType:  pkglogger.EventMagicLinkRequest,
		Identifier: email,
		IPAddress:  ipAddress,
		Success:    true,
	})
	return nil
}

// magicToken is the persisted record of an issued link, keyed by the
// token's hash so the store never holds a usable credential.
type magicToken struct {
	Email     string `json:"email"`
	ExpiresAt int64  `json:"expires_at"` // milliseconds since epoch
}

func (s *AuthService) issueMagicToken(ctx context.Context, email string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	record, err := json.Marshal(magicToken{
		Email:     email,
		ExpiresAt: time.Now().Add(magicLinkTTL).UnixMilli(),
	})
	if err != nil {
		return "", err
	}

	if err := s.kv.Set(ctx, magicTokenKey(token), record); err != nil {
		return "", err
	}
	return token, nil
}

// ConsumeMagicLink validates and burns a one-time token, returning the
// email it was issued for. Session issuance is the upstream identity
// provider's job; this only proves the link was redeemed.
func (s *AuthService) ConsumeMagicLink(ctx context.Context, token string) (string, error) {
	key := magicTokenKey(token)

	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", models.ErrUnauthorized
	}

	var record magicToken
	if err := json.Unmarshal(raw, &record); err != nil {
		_ = s.kv.Delete(ctx, key)
		return "", models.ErrUnauthorized
	}

	// Single use: burn before the expiry check so a replayed expired
	// token also disappears.
	_ = s.kv.Delete(ctx, key)

	if time.Now().UnixMilli() > record.ExpiresAt {
		return "", models.ErrUnauthorized
	}
	return record.Email, nil
}

// VerifyCaptcha marks the identifier's challenge solved.
func (s *AuthService) VerifyCaptcha(ctx context.Context, email, ipAddress string) {
	email = ratelimit.NormalizeIdentifier(email)
	s.limits.Guard(email).SetCaptchaVerified(true)
	s.audit.Log(pkglogger.AuditEvent{
		EventType:  pkglogger.EventCaptchaVerified,
		Identifier: email,
		IPAddress:  ipAddress,
		Success:    true,
	})
}

// LimitStatus reports the guard state for an identifier.
func (s *AuthService) LimitStatus(email string) ratelimit.Status {
	return s.limits.Guard(email).Status()
}

// ResetLimits fully clears an identifier, including its persisted
// escalation level. Admin surface.
func (s *AuthService) ResetLimits(email string) {
	s.limits.Reset(email)
	s.audit.Log(pkglogger.AuditEvent{
		EventType:  pkglogger.EventLimitsReset,
		Identifier: email,
		Success:    true,
	})
}

func (s *AuthService) recordAttempt(ctx context.Context, email, kind, ipAddress, userAgent string, success, denied bool) {
	if s.archive == nil {
		return
	}
	attempt := &models.LoginAttempt{
		Identifier: email,
		Kind:       kind,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Success:    success,
		Denied:     denied,
		ExpiresAt:  time.Now().Add(s.archiveTTL),
	}
	if err := s.archive.Record(ctx, attempt); err != nil {
		s.logger.Error("failed to archive attempt", slog.Any("error", err))
	}
}

func magicTokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "magiclink:" + hex.EncodeToString(sum[:])
}

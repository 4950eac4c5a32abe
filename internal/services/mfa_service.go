package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kestrelhq/warden/internal/auth"
	"github.com/kestrelhq/warden/internal/models"
	"github.com/kestrelhq/warden/internal/ratelimit"
	pkglogger "github.com/kestrelhq/warden/pkg/logger"
)

// MFAUserStore is the slice of the user repository the MFA flows need.
type MFAUserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	SetTOTPEnrollment(ctx context.Context, userID string, secret, nonce []byte) error
	ConfirmTOTP(ctx context.Context, userID string) error
}

// MFAService manages TOTP enrollment and verification.
type MFAService struct {
	users  MFAUserStore
	totp   *auth.TOTPManager
	audit  *pkglogger.AuditLogger
	logger *slog.Logger
}

func NewMFAService(users MFAUserStore, totp *auth.TOTPManager, audit *pkglogger.AuditLogger, logger *slog.Logger) *MFAService {
	return &MFAService{users: users, totp: totp, audit: audit, logger: logger}
}

// EnrollmentResult carries the setup material shown to the user once.
type EnrollmentResult struct {
	Secret    string `json:"secret"`
	QRDataURL string `json:"qr_data_url"`
}

// Enroll generates and stores a fresh TOTP secret. Re-enrollment of a
// confirmed device is rejected; the old device must be removed first.
func (s *MFAService) Enroll(ctx context.Context, email string) (*EnrollmentResult, error) {
	user, err := s.users.GetByEmail(ctx, ratelimit.NormalizeIdentifier(email))
	if err != nil {
		return nil, err
	}
	if user.MFAEnrolled() {
		return nil, models.ErrMFAAlreadySetup
	}

	enrollment, err := s.totp.GenerateEnrollment(user.Email)
	if err != nil {
		return nil, err
	}

	if err := s.users.SetTOTPEnrollment(ctx, user.ID, enrollment.EncryptedSecret, enrollment.Nonce); err != nil {
		return nil, err
	}

	s.audit.Log(pkglogger.AuditEvent{
		EventType:  pkglogger.EventMFAEnroll,
		Identifier: user.Email,
		Success:    true,
	})

	return &EnrollmentResult{
		Secret:    enrollment.Secret,
		QRDataURL: enrollment.QRDataURL,
	}, nil
}

// Verify checks a code against the stored secret. The first valid code
// confirms a pending enrollment.
func (s *MFAService) Verify(ctx context.Context, email, code string) error {
	user, err := s.users.GetByEmail(ctx, ratelimit.NormalizeIdentifier(email))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrMFACodeInvalid
		}
		return err
	}
	if len(user.TOTPSecret) == 0 {
		return models.ErrMFANotEnrolled
	}

	valid, err := s.totp.Validate(user.TOTPSecret, user.TOTPNonce, code)
	if err != nil {
		s.logger.Error("totp validation failed", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !valid {
		s.audit.Log(pkglogger.AuditEvent{
			EventType:  pkglogger.EventMFAVerify,
			Identifier: user.Email,
			Success:    false,
			Reason:     "invalid_code",
		})
		return models.ErrMFACodeInvalid
	}

	if !user.TOTPConfirmed {
		if err := s.users.ConfirmTOTP(ctx, user.ID); err != nil {
			return err
		}
	}

	s.audit.Log(pkglogger.AuditEvent{
		EventType:  pkglogger.EventMFAVerify,
		Identifier: user.Email,
		Success:    true,
	})
	return nil
}

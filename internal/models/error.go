package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Admission control errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrAccountLocked     = errors.New("account is temporarily locked")
	ErrCaptchaRequired   = errors.New("captcha verification required")

	// MFA errors
	ErrMFANotEnrolled  = errors.New("mfa not enrolled")
	ErrMFACodeInvalid  = errors.New("invalid mfa code")
	ErrMFAAlreadySetup = errors.New("mfa already enrolled")
)

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kestrelhq/warden/internal/models"
	"github.com/kestrelhq/warden/internal/services"
	pkghttp "github.com/kestrelhq/warden/pkg/http"
)

// MFAServiceInterface defines the interface for MFA business logic
type MFAServiceInterface interface {
	Enroll(ctx context.Context, email string) (*services.EnrollmentResult, error)
	Verify(ctx context.Context, email, code string) error
}

// MFAHandler handles TOTP enrollment and verification requests
type MFAHandler struct {
	service MFAServiceInterface
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(service MFAServiceInterface) *MFAHandler {
	return &MFAHandler{service: service}
}

// EnrollRequest represents the request body for MFA enrollment
type EnrollRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// VerifyRequest represents the request body for MFA code verification
type VerifyRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// Enroll generates a TOTP secret and provisioning QR code
// @Summary Begin TOTP enrollment
// @Accept json
// @Param request body EnrollRequest true "Enroll request"
// @Produce json
// @Success 200 {object} services.EnrollmentResult
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /mfa/enroll [post]
func (h *MFAHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "mfa_disabled", "MFA is not configured on this server")
		return
	}

	var req EnrollRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Enroll(r.Context(), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Account not found")
		case errors.Is(err, models.ErrMFAAlreadySetup):
			pkghttp.WriteConflict(w, "MFA is already configured for this account")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Verify checks a TOTP code; the first valid code confirms enrollment
// @Summary Verify a TOTP code
// @Accept json
// @Param request body VerifyRequest true "Verify request"
// @Produce json
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /mfa/verify [post]
func (h *MFAHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "mfa_disabled", "MFA is not configured on this server")
		return
	}

	var req VerifyRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Verify(r.Context(), req.Email, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrMFANotEnrolled):
			pkghttp.WriteBadRequest(w, "MFA is not configured for this account")
		case errors.Is(err, models.ErrMFACodeInvalid):
			pkghttp.WriteUnauthorized(w, "Invalid verification code")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

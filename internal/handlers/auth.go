package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kestrelhq/warden/internal/models"
	"github.com/kestrelhq/warden/internal/ratelimit"
	"github.com/kestrelhq/warden/internal/services"
	pkghttp "github.com/kestrelhq/warden/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password, ipAddress, userAgent string) (*services.LoginResult, error)
	RequestMagicLink(ctx context.Context, email, ipAddress, userAgent string) error
	ConsumeMagicLink(ctx context.Context, token string) (string, error)
	VerifyCaptcha(ctx context.Context, email, ipAddress string)
	LimitStatus(email string) ratelimit.Status
	ResetLimits(email string)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// MagicLinkRequest represents the request body for a magic link send
type MagicLinkRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// MagicConsumeRequest represents the request body for magic link redemption
type MagicConsumeRequest struct {
	Token string `json:"token" validate:"required,len=64"`
}

// CaptchaVerifyRequest represents the request body for captcha confirmation
type CaptchaVerifyRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Login handles credential login under rate limit and lockout control
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.LoginResult
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = ratelimit.NormalizeIdentifier(req.Email)
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	result, err := h.service.Login(r.Context(), req.Email, req.Password, ipAddress, userAgent)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrAccountLocked):
			status := h.service.LimitStatus(req.Email)
			pkghttp.WriteTooManyRequests(w, "Account temporarily locked. Please try again later.", status.LockoutCooldown)
		case errors.Is(err, models.ErrCaptchaRequired):
			pkghttp.WriteError(w, http.StatusForbidden, "captcha_required", "Please complete the captcha challenge to continue.")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// MagicLink handles magic link send requests
// @Summary Request a magic sign-in link
// @Accept json
// @Param request body MagicLinkRequest true "Magic link request"
// @Produce json
// @Success 202
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/magic-link [post]
func (h *AuthHandler) MagicLink(w http.ResponseWriter, r *http.Request) {
	var req MagicLinkRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = ratelimit.NormalizeIdentifier(req.Email)
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	err := h.service.RequestMagicLink(r.Context(), req.Email, ipAddress, userAgent)
	if err != nil {
		if errors.Is(err, models.ErrRateLimitExceeded) {
			status := h.service.LimitStatus(req.Email)
			pkghttp.WriteTooManyRequests(w, "Too many magic link requests. Please try again later.", status.RateLimitCooldown)
			return
		}
		// Send failures collapse to a generic outage; the caller cannot
		// distinguish a broken mail provider from an open circuit.
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "delivery_unavailable", "Unable to send the sign-in link right now. Please try again later.")
		return
	}

	// Same body whether or not the account exists
	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If an account exists with this email, a sign-in link will be sent.",
	})
}

// MagicConsume redeems a magic link token
// @Summary Redeem a magic sign-in link
// @Accept json
// @Param request body MagicConsumeRequest true "Magic consume request"
// @Produce json
// @Success 200
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/magic-link/consume [post]
func (h *AuthHandler) MagicConsume(w http.ResponseWriter, r *http.Request) {
	var req MagicConsumeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	email, err := h.service.ConsumeMagicLink(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Invalid or expired sign-in link")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"email":   email,
		"message": "Sign-in link verified.",
	})
}

// CaptchaVerify marks an identifier as having passed the captcha challenge
// @Summary Confirm a solved captcha
// @Accept json
// @Param request body CaptchaVerifyRequest true "Captcha verify request"
// @Produce json
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /auth/captcha/verify [post]
func (h *AuthHandler) CaptchaVerify(w http.ResponseWriter, r *http.Request) {
	var req CaptchaVerifyRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	h.service.VerifyCaptcha(r.Context(), req.Email, ipAddress)

	w.WriteHeader(http.StatusNoContent)
}

// LimitStatus reports the current guard state for an identifier
// @Summary Get rate limit status for an identifier
// @Produce json
// @Success 200 {object} ratelimit.Status
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /auth/limits/{identifier} [get]
func (h *AuthHandler) LimitStatus(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if strings.TrimSpace(identifier) == "" {
		pkghttp.WriteBadRequest(w, "identifier is required")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, h.service.LimitStatus(identifier))
}

// ResetLimits clears all rate limit and lockout state for an identifier.
// Mounted behind the admin token middleware.
// @Summary Reset rate limit state for an identifier
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /admin/limits/{identifier}/reset [post]
func (h *AuthHandler) ResetLimits(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if strings.TrimSpace(identifier) == "" {
		pkghttp.WriteBadRequest(w, "identifier is required")
		return
	}

	h.service.ResetLimits(identifier)
	w.WriteHeader(http.StatusNoContent)
}

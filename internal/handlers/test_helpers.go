package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/kestrelhq/warden/internal/models"
	"github.com/kestrelhq/warden/internal/ratelimit"
	"github.com/kestrelhq/warden/internal/services"
	pkghttp "github.com/kestrelhq/warden/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc            func(ctx context.Context, email, password, ipAddress, userAgent string) (*services.LoginResult, error)
	RequestMagicLinkFunc func(ctx context.Context, email, ipAddress, userAgent string) error
	ConsumeMagicLinkFunc func(ctx context.Context, token string) (string, error)
	VerifyCaptchaFunc    func(ctx context.Context, email, ipAddress string)
	LimitStatusFunc      func(email string) ratelimit.Status
	ResetLimitsFunc      func(email string)
}

func (m *MockAuthService) Login(ctx context.Context, email, password, ipAddress, userAgent string) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password, ipAddress, userAgent)
}

func (m *MockAuthService) RequestMagicLink(ctx context.Context, email, ipAddress, userAgent string) error {
	if m.RequestMagicLinkFunc == nil {
		return nil
	}
	return m.RequestMagicLinkFunc(ctx, email, ipAddress, userAgent)
}

func (m *MockAuthService) ConsumeMagicLink(ctx context.Context, token string) (string, error) {
	if m.ConsumeMagicLinkFunc == nil {
		return "", models.ErrUnauthorized
	}
	return m.ConsumeMagicLinkFunc(ctx, token)
}

func (m *MockAuthService) VerifyCaptcha(ctx context.Context, email, ipAddress string) {
	if m.VerifyCaptchaFunc != nil {
		m.VerifyCaptchaFunc(ctx, email, ipAddress)
	}
}

func (m *MockAuthService) LimitStatus(email string) ratelimit.Status {
	if m.LimitStatusFunc == nil {
		return ratelimit.Status{Identifier: email, RemainingAttempts: 5}
	}
	return m.LimitStatusFunc(email)
}

func (m *MockAuthService) ResetLimits(email string) {
	if m.ResetLimitsFunc != nil {
		m.ResetLimitsFunc(email)
	}
}

// MockMFAService implements MFAServiceInterface for testing
type MockMFAService struct {
	EnrollFunc func(ctx context.Context, email string) (*services.EnrollmentResult, error)
	VerifyFunc func(ctx context.Context, email, code string) error
}

func (m *MockMFAService) Enroll(ctx context.Context, email string) (*services.EnrollmentResult, error) {
	if m.EnrollFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.EnrollFunc(ctx, email)
}

func (m *MockMFAService) Verify(ctx context.Context, email, code string) error {
	if m.VerifyFunc == nil {
		return models.ErrMFACodeInvalid
	}
	return m.VerifyFunc(ctx, email, code)
}

package services_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/warden/internal/auth"
	"github.com/kestrelhq/warden/internal/models"
	"github.com/kestrelhq/warden/internal/services"
	pkglogger "github.com/kestrelhq/warden/pkg/logger"
)

// MockMFAUserStore implements services.MFAUserStore for testing
type MockMFAUserStore struct {
	users map[string]*models.User
}

func NewMockMFAUserStore() *MockMFAUserStore {
	return &MockMFAUserStore{users: make(map[string]*models.User)}
}

func (m *MockMFAUserStore) AddUser(email string) *models.User {
	user := &models.User{
		ID:    "user-" + email,
		Email: email,
	}
	m.users[email] = user
	return user
}

func (m *MockMFAUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := m.users[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user, nil
}

func (m *MockMFAUserStore) SetTOTPEnrollment(ctx context.Context, userID string, secret, nonce []byte) error {
	for _, user := range m.users {
		if user.ID == userID {
			user.TOTPSecret = secret
			user.TOTPNonce = nonce
			user.TOTPConfirmed = false
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *MockMFAUserStore) ConfirmTOTP(ctx context.Context, userID string) error {
	for _, user := range m.users {
		if user.ID == userID {
			user.TOTPConfirmed = true
			return nil
		}
	}
	return models.ErrNotFound
}

func newMFAFixture(t *testing.T) (*services.MFAService, *MockMFAUserStore) {
	t.Helper()

	key := make([]byte, 32)
	copy(key, []byte("0123456789abcdef0123456789abcdef"))
	manager, err := auth.NewTOTPManager(key, "Warden Test")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := NewMockMFAUserStore()
	service := services.NewMFAService(users, manager, pkglogger.NewAuditLogger(logger), logger)
	return service, users
}

func TestMFAServiceEnroll(t *testing.T) {
	service, users := newMFAFixture(t)
	users.AddUser("test@example.com")

	result, err := service.Enroll(context.Background(), "test@example.com")

	require.NoError(t, err)
	assert.NotEmpty(t, result.Secret)
	assert.Contains(t, result.QRDataURL, "data:image/png;base64,")

	user := users.users["test@example.com"]
	assert.NotEmpty(t, user.TOTPSecret)
	assert.False(t, user.TOTPConfirmed, "enrollment stays pending until verified")
}

func TestMFAServiceEnroll_UnknownUser(t *testing.T) {
	service, _ := newMFAFixture(t)

	_, err := service.Enroll(context.Background(), "ghost@example.com")

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMFAServiceEnroll_AlreadyConfirmed(t *testing.T) {
	service, users := newMFAFixture(t)
	users.AddUser("test@example.com")
	ctx := context.Background()

	result, err := service.Enroll(ctx, "test@example.com")
	require.NoError(t, err)
	code, err := totp.GenerateCode(result.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, service.Verify(ctx, "test@example.com", code))

	_, err = service.Enroll(ctx, "test@example.com")
	assert.ErrorIs(t, err, models.ErrMFAAlreadySetup)
}

func TestMFAServiceVerify_ConfirmsPendingEnrollment(t *testing.T) {
	service, users := newMFAFixture(t)
	users.AddUser("test@example.com")
	ctx := context.Background()

	result, err := service.Enroll(ctx, "test@example.com")
	require.NoError(t, err)

	code, err := totp.GenerateCode(result.Secret, time.Now())
	require.NoError(t, err)

	require.NoError(t, service.Verify(ctx, "test@example.com", code))
	assert.True(t, users.users["test@example.com"].TOTPConfirmed)
}

func TestMFAServiceVerify_InvalidCode(t *testing.T) {
	service, users := newMFAFixture(t)
	users.AddUser("test@example.com")
	ctx := context.Background()

	_, err := service.Enroll(ctx, "test@example.com")
	require.NoError(t, err)

	err = service.Verify(ctx, "test@example.com", "000000")
	assert.ErrorIs(t, err, models.ErrMFACodeInvalid)
}

func TestMFAServiceVerify_NotEnrolled(t *testing.T) {
	service, users := newMFAFixture(t)
	users.AddUser("test@example.com")

	err := service.Verify(context.Background(), "test@example.com", "123456")

	assert.ErrorIs(t, err, models.ErrMFANotEnrolled)
}

package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kestrelhq/warden/internal/circuit"
	"github.com/kestrelhq/warden/internal/models"
	"github.com/kestrelhq/warden/internal/ratelimit"
	"github.com/kestrelhq/warden/internal/services"
	"github.com/kestrelhq/warden/internal/store"
	pkglogger "github.com/kestrelhq/warden/pkg/logger"
)

// MockUserStore implements services.UserStore for testing
type MockUserStore struct {
	users map[string]*models.User
}

func NewMockUserStore() *MockUserStore {
	return &MockUserStore{users: make(map[string]*models.User)}
}

func (m *MockUserStore) AddUser(email, password string) {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	m.users[email] = &models.User{
		ID:           "user-" + email,
		Email:        email,
		PasswordHash: string(hash),
		Name:         "Test User",
	}
}

func (m *MockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := m.users[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user, nil
}

func (m *MockUserStore) TouchLastLogin(ctx context.Context, userID string, when time.Time) error {
	return nil
}

// MockArchive implements services.AttemptArchive for testing
type MockArchive struct {
	mu       sync.Mutex
	attempts []*models.LoginAttempt
}

func (m *MockArchive) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempt)
	return nil
}

func (m *MockArchive) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

// MockEmailSender implements services.EmailSender for testing
type MockEmailSender struct {
	mu        sync.Mutex
	sent      []string // tokens of dispatched magic links
	failNext  bool
	failError error
}

func (m *MockEmailSender) SendMagicLink(ctx context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		return m.failError
	}
	m.sent = append(m.sent, token)
	return nil
}

func (m *MockEmailSender) SendLockoutAlert(ctx context.Context, email string, duration time.Duration, level int) error {
	return nil
}

func (m *MockEmailSender) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *MockEmailSender) LastToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type authFixture struct {
	service *services.AuthService
	users   *MockUserStore
	archive *MockArchive
	email   *MockEmailSender
	limits  *ratelimit.Service
	kv      *store.MemoryStore
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := store.NewMemoryStore()
	limits := ratelimit.NewService(ratelimit.DefaultConfig(), kv, logger)
	t.Cleanup(limits.Close)

	users := NewMockUserStore()
	archive := &MockArchive{}
	email := &MockEmailSender{}
	breaker := circuit.NewBreaker("test", "email", circuit.DefaultConfig(), kv, nil, logger)

	service := services.NewAuthService(
		users, limits, archive, email, breaker, kv,
		pkglogger.NewAuditLogger(logger), logger, 10*time.Minute,
	)

	return &authFixture{
		service: service,
		users:   users,
		archive: archive,
		email:   email,
		limits:  limits,
		kv:      kv,
	}
}

func TestAuthServiceLogin_Success(t *testing.T) {
	f := newAuthFixture(t)
	f.users.AddUser("test@example.com", "correct-password")

	result, err := f.service.Login(context.Background(), "test@example.com", "correct-password", "192.168.1.1", "Mozilla/5.0")

	require.NoError(t, err)
	assert.Equal(t, "user-test@example.com", result.UserID)
	assert.False(t, result.MFARequired)
	assert.Equal(t, 1, f.archive.Count())
}

func TestAuthServiceLogin_WrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.users.AddUser("test@example.com", "correct-password")

	_, err := f.service.Login(context.Background(), "test@example.com", "wrong", "192.168.1.1", "Mozilla/5.0")

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	status := f.service.LimitStatus("test@example.com")
	assert.Equal(t, 4, status.RemainingAttempts)
}

func TestAuthServiceLogin_UnknownUserConsumesAttempts(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.service.Login(context.Background(), "ghost@example.com", "whatever", "192.168.1.1", "Mozilla/5.0")

	assert.ErrorIs(t, err, models.ErrUnauthorized, "unknown accounts look like bad passwords")
	assert.Equal(t, 4, f.service.LimitStatus("ghost@example.com").RemainingAttempts)
}

func TestAuthServiceLogin_CaptchaGateBlocksAtThreshold(t *testing.T) {
	f := newAuthFixture(t)
	f.users.AddUser("test@example.com", "correct-password")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.service.Login(ctx, "test@example.com", "wrong", "192.168.1.1", "Mozilla/5.0")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	}

	// Correct password is irrelevant until the challenge is solved.
	_, err := f.service.Login(ctx, "test@example.com", "correct-password", "192.168.1.1", "Mozilla/5.0")
	assert.ErrorIs(t, err, models.ErrCaptchaRequired)

	f.service.VerifyCaptcha(ctx, "test@example.com", "192.168.1.1")

	result, err := f.service.Login(ctx, "test@example.com", "correct-password", "192.168.1.1", "Mozilla/5.0")
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestAuthServiceLogin_LockoutAfterMaxAttempts(t *testing.T) {
	f := newAuthFixture(t)
	f.users.AddUser("test@example.com", "correct-password")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.service.Login(ctx, "test@example.com", "wrong", "192.168.1.1", "Mozilla/5.0")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	}
	f.service.VerifyCaptcha(ctx, "test@example.com", "192.168.1.1")
	for i := 0; i < 2; i++ {
		_, err := f.service.Login(ctx, "test@example.com", "wrong", "192.168.1.1", "Mozilla/5.0")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	}

	status := f.service.LimitStatus("test@example.com")
	assert.True(t, status.Locked)
	assert.Equal(t, 1, status.LockoutLevel)

	_, err := f.service.Login(ctx, "test@example.com", "correct-password", "192.168.1.1", "Mozilla/5.0")
	assert.ErrorIs(t, err, models.ErrAccountLocked)
}

func TestAuthServiceLogin_SuccessResetsAttempts(t *testing.T) {
	f := newAuthFixture(t)
	f.users.AddUser("test@example.com", "correct-password")
	ctx := context.Background()

	_, _ = f.service.Login(ctx, "test@example.com", "wrong", "192.168.1.1", "Mozilla/5.0")
	_, _ = f.service.Login(ctx, "test@example.com", "wrong", "192.168.1.1", "Mozilla/5.0")

	_, err := f.service.Login(ctx, "test@example.com", "correct-password", "192.168.1.1", "Mozilla/5.0")
	require.NoError(t, err)

	assert.Equal(t, 5, f.service.LimitStatus("test@example.com").RemainingAttempts)
}

func TestAuthServiceMagicLink_AdmitsUnderLimit(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := f.service.RequestMagicLink(ctx, "test@example.com", "192.168.1.1", "Mozilla/5.0")
		require.NoError(t, err, "send %d", i+1)
	}
	assert.Equal(t, 3, f.email.SentCount())

	err := f.service.RequestMagicLink(ctx, "test@example.com", "192.168.1.1", "Mozilla/5.0")
	assert.ErrorIs(t, err, models.ErrRateLimitExceeded)
	assert.Equal(t, 3, f.email.SentCount())
}

func TestAuthServiceMagicLink_FailedSendDoesNotChargeWindow(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	f.email.failNext = true
	f.email.failError = errors.New("ses unavailable")

	err := f.service.RequestMagicLink(ctx, "test@example.com", "192.168.1.1", "Mozilla/5.0")
	require.Error(t, err)

	f.email.failNext = false
	for i := 0; i < 3; i++ {
		err := f.service.RequestMagicLink(ctx, "test@example.com", "192.168.1.1", "Mozilla/5.0")
		require.NoError(t, err, "failed dispatches must not count toward the window")
	}
}

func TestAuthServiceMagicLink_OpenCircuitBlocksSends(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	f.email.failNext = true
	f.email.failError = errors.New("ses unavailable")

	// Identifiers rotate so the magic-link window never trips; only the
	// breaker accumulates failures.
	emails := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"}
	for _, email := range emails {
		err := f.service.RequestMagicLink(ctx, email, "192.168.1.1", "Mozilla/5.0")
		require.Error(t, err)
	}

	f.email.failNext = false
	err := f.service.RequestMagicLink(ctx, "f@example.com", "192.168.1.1", "Mozilla/5.0")
	require.Error(t, err)
	assert.Equal(t, 0, f.email.SentCount(), "open circuit must not reach the sender")
}

func TestAuthServiceMagicLink_ConsumeIsSingleUse(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.RequestMagicLink(ctx, "test@example.com", "192.168.1.1", "Mozilla/5.0"))
	token := f.email.LastToken()

	email, err := f.service.ConsumeMagicLink(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", email)

	_, err = f.service.ConsumeMagicLink(ctx, token)
	assert.ErrorIs(t, err, models.ErrUnauthorized, "a redeemed token is burned")
}

func TestAuthServiceResetLimits(t *testing.T) {
	f := newAuthFixture(t)
	f.users.AddUser("test@example.com", "correct-password")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = f.service.Login(ctx, "test@example.com", "wrong", "192.168.1.1", "Mozilla/5.0")
	}
	require.Equal(t, 2, f.service.LimitStatus("test@example.com").RemainingAttempts)

	f.service.ResetLimits("test@example.com")

	status := f.service.LimitStatus("test@example.com")
	assert.Equal(t, 5, status.RemainingAttempts)
	assert.False(t, status.Locked)
	assert.Zero(t, status.LockoutLevel)
}

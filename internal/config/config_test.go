package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.RateLimit.Window != time.Minute {
		t.Errorf("Window: got %v, want %v", cfg.RateLimit.Window, time.Minute)
	}
	if cfg.RateLimit.MaxMagicLinkRequests != 3 {
		t.Errorf("MaxMagicLinkRequests: got %d, want 3", cfg.RateLimit.MaxMagicLinkRequests)
	}
	if cfg.RateLimit.MaxLoginAttempts != 5 {
		t.Errorf("MaxLoginAttempts: got %d, want 5", cfg.RateLimit.MaxLoginAttempts)
	}
	if cfg.RateLimit.CaptchaThreshold != 3 {
		t.Errorf("CaptchaThreshold: got %d, want 3", cfg.RateLimit.CaptchaThreshold)
	}
	if cfg.RateLimit.LockoutDecay != 24*time.Hour {
		t.Errorf("LockoutDecay: got %v, want 24h", cfg.RateLimit.LockoutDecay)
	}

	wantLadder := []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour}
	if len(cfg.RateLimit.LockoutDurations) != len(wantLadder) {
		t.Fatalf("LockoutDurations: got %v, want %v", cfg.RateLimit.LockoutDurations, wantLadder)
	}
	for i, d := range wantLadder {
		if cfg.RateLimit.LockoutDurations[i] != d {
			t.Errorf("LockoutDurations[%d]: got %v, want %v", i, cfg.RateLimit.LockoutDurations[i], d)
		}
	}

	if cfg.Circuit.FailureThreshold != 5 {
		t.Errorf("FailureThreshold: got %d, want 5", cfg.Circuit.FailureThreshold)
	}
	if cfg.Circuit.SuccessThreshold != 2 {
		t.Errorf("SuccessThreshold: got %d, want 2", cfg.Circuit.SuccessThreshold)
	}
	if cfg.Circuit.ResetTimeout != 30*time.Second {
		t.Errorf("ResetTimeout: got %v, want 30s", cfg.Circuit.ResetTimeout)
	}
}

func TestLoad_CustomLockoutLadder(t *testing.T) {
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("LOCKOUT_DURATIONS", "1m, 10m, 2h")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	want := []time.Duration{time.Minute, 10 * time.Minute, 2 * time.Hour}
	for i, d := range want {
		if cfg.RateLimit.LockoutDurations[i] != d {
			t.Errorf("LockoutDurations[%d]: got %v, want %v", i, cfg.RateLimit.LockoutDurations[i], d)
		}
	}
}

func TestLoad_InvalidLockoutLadderFallsBack(t *testing.T) {
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("LOCKOUT_DURATIONS", "5m,garbage,1h")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if len(cfg.RateLimit.LockoutDurations) != 3 || cfg.RateLimit.LockoutDurations[0] != 5*time.Minute {
		t.Errorf("expected default ladder on parse failure, got %v", cfg.RateLimit.LockoutDurations)
	}
}

func TestLoad_DecreasingLadderRejected(t *testing.T) {
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("LOCKOUT_DURATIONS", "1h,5m")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject a decreasing lockout ladder")
	}
}

func TestLoad_MissingDBPassword(t *testing.T) {
	os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail without DB_PASSWORD")
	}
}

func TestLoad_WeakAdminToken(t *testing.T) {
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("ADMIN_API_TOKEN", "short")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject a short admin token")
	}
}

func TestLoad_MFAKeyLength(t *testing.T) {
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("MFA_ENCRYPTION_KEY", "too-short")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject a non-32-byte MFA key")
	}
}

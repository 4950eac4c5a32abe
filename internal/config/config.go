package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Circuit   CircuitConfig
	Email     EmailConfig
	MFA       MFAConfig
	Admin     AdminConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// RateLimitConfig carries every tunable of the admission core.
// Defaults mirror the documented behavior: a 60s magic-link window,
// a 5x window lookback for login attempts, and a 5m/15m/1h lockout ladder.
type RateLimitConfig struct {
	Window               time.Duration
	MaxMagicLinkRequests int
	MaxLoginAttempts     int
	CaptchaThreshold     int
	LockoutDurations     []time.Duration
	LockoutDecay         time.Duration
	GuardIdleEviction    time.Duration
	CleanupInterval      time.Duration
}

type CircuitConfig struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
	MonitoringWindow time.Duration
}

type EmailConfig struct {
	AWSRegion        string
	FromAddress      string
	MagicLinkURLBase string
	Enabled          bool
}

type MFAConfig struct {
	EncryptionKey string // 32 bytes, AES-256
	Issuer        string
}

type AdminConfig struct {
	APIToken string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "warden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Window:               getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
			MaxMagicLinkRequests: getEnvAsInt("MAX_MAGIC_LINK_REQUESTS", 3),
			MaxLoginAttempts:     getEnvAsInt("MAX_LOGIN_ATTEMPTS", 5),
			CaptchaThreshold:     getEnvAsInt("CAPTCHA_THRESHOLD", 3),
			LockoutDurations:     getEnvAsDurationList("LOCKOUT_DURATIONS", []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour}),
			LockoutDecay:         getEnvAsDuration("LOCKOUT_DECAY", 24*time.Hour),
			GuardIdleEviction:    getEnvAsDuration("GUARD_IDLE_EVICTION", 2*time.Hour),
			CleanupInterval:      getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Circuit: CircuitConfig{
			FailureThreshold: getEnvAsInt("CIRCUIT_FAILURE_THRESHOLD", 5),
			SuccessThreshold: getEnvAsInt("CIRCUIT_SUCCESS_THRESHOLD", 2),
			ResetTimeout:     getEnvAsDuration("CIRCUIT_RESET_TIMEOUT", 30*time.Second),
			MonitoringWindow: getEnvAsDuration("CIRCUIT_MONITORING_WINDOW", time.Minute),
		},
		Email: EmailConfig{
			AWSRegion:        getEnv("AWS_REGION", "us-east-1"),
			FromAddress:      getEnv("EMAIL_FROM_ADDRESS", ""),
			MagicLinkURLBase: getEnv("MAGIC_LINK_URL_BASE", "http://localhost:3000"),
			Enabled:          getEnvAsBool("EMAIL_ENABLED", false),
		},
		MFA: MFAConfig{
			EncryptionKey: getEnv("MFA_ENCRYPTION_KEY", ""),
			Issuer:        getEnv("MFA_ISSUER", "Warden"),
		},
		Admin: AdminConfig{
			APIToken: getEnv("ADMIN_API_TOKEN", ""),
		},
	}

	if err := cfg.validate(env); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate(env string) error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.RateLimit.MaxMagicLinkRequests < 1 || c.RateLimit.MaxLoginAttempts < 1 {
		return fmt.Errorf("rate limit maximums must be at least 1")
	}
	if len(c.RateLimit.LockoutDurations) == 0 {
		return fmt.Errorf("LOCKOUT_DURATIONS must contain at least one duration")
	}
	for i := 1; i < len(c.RateLimit.LockoutDurations); i++ {
		if c.RateLimit.LockoutDurations[i] < c.RateLimit.LockoutDurations[i-1] {
			return fmt.Errorf("LOCKOUT_DURATIONS must be non-decreasing")
		}
	}

	if c.Circuit.FailureThreshold < 1 || c.Circuit.SuccessThreshold < 1 {
		return fmt.Errorf("circuit thresholds must be at least 1")
	}

	if c.Email.Enabled && c.Email.FromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS is required when EMAIL_ENABLED is true")
	}

	if c.MFA.EncryptionKey != "" && len(c.MFA.EncryptionKey) != 32 {
		return fmt.Errorf("MFA_ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(c.MFA.EncryptionKey))
	}

	if env == "production" && c.Admin.APIToken == "" {
		return fmt.Errorf("ADMIN_API_TOKEN is required in production")
	}
	if c.Admin.APIToken != "" && len(c.Admin.APIToken) < 16 {
		return fmt.Errorf("ADMIN_API_TOKEN must be at least 16 characters")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsDurationList parses a comma-separated duration list, e.g. "5m,15m,1h".
// Any unparseable element falls back to the whole default.
func getEnvAsDurationList(key string, defaultVal []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}

	parts := strings.Split(value, ",")
	durations := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return defaultVal
		}
		durations = append(durations, d)
	}
	return durations
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

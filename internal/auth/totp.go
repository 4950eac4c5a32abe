package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod     = 30
	totpSecretSize = 32
	qrImageSize    = 200
)

// TOTPManager generates, encrypts, and validates TOTP enrollments.
// Secrets are stored AES-256-GCM encrypted; only this manager holds the key.
type TOTPManager struct {
	encryptionKey []byte // 32 bytes
	issuer        string
}

func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}
	return &TOTPManager{encryptionKey: encryptionKey, issuer: issuer}, nil
}

// Enrollment is the material returned to a user setting up TOTP.
type Enrollment struct {
	EncryptedSecret []byte
	Nonce           []byte
	Secret          string // base32, shown once for manual entry
	QRDataURL       string // PNG data URL of the provisioning URI
}

// GenerateEnrollment creates a fresh secret, encrypts it for storage, and
// renders the provisioning QR code.
func (tm *TOTPManager) GenerateEnrollment(accountEmail string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountEmail,
		SecretSize:  totpSecretSize,
		Period:      totpPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := tm.encryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := qr.PNG(qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &Enrollment{
		EncryptedSecret: encrypted,
		Nonce:           nonce,
		Secret:          key.Secret(),
		QRDataURL:       "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// Validate checks a six-digit code against an encrypted secret, allowing
// one period of clock skew either side.
func (tm *TOTPManager) Validate(encryptedSecret, nonce []byte, code string) (bool, error) {
	secret, err := tm.decryptSecret(encryptedSecret, nonce)
	if err != nil {
		return false, err
	}

	valid, err := totp.ValidateCustom(code, string(secret), time.Now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}
	return valid, nil
}

func (tm *TOTPManager) encryptSecret(secret []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, secret, nil), nonce, nil
}

func (tm *TOTPManager) decryptSecret(encrypted, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return plaintext, nil
}

package auth

import (
	"strings"
	"testing"
)

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() = %v, want nil", err)
	}

	if err := ComparePassword(hash, "correct horse battery staple"); err != nil {
		t.Errorf("ComparePassword(correct) = %v, want nil", err)
	}
	if err := ComparePassword(hash, "wrong password"); err == nil {
		t.Error("ComparePassword(wrong) = nil, want error")
	}
}

func TestHashPassword_Empty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Error("HashPassword(\"\") = nil, want error")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"too short", "abc", true},
		{"minimum length", "12345678", false},
		{"too long", strings.Repeat("a", 129), true},
		{"normal", "a sensible passphrase", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword(%q) = %v, wantErr %v", tt.password, err, tt.wantErr)
			}
		})
	}
}

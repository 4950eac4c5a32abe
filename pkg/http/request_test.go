package http

import (
	"net/http/httptest"
	"testing"
)

func TestExtractClientIP_RemoteAddrOnly(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "203.0.113.7:52611"

	if got := ExtractClientIP(r, nil); got != "203.0.113.7" {
		t.Errorf("ExtractClientIP() = %q, want 203.0.113.7", got)
	}
}

func TestExtractClientIP_UntrustedProxyHeadersIgnored(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "203.0.113.7:52611"
	r.Header.Set("X-Forwarded-For", "198.51.100.20")

	cfg := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}
	if got := ExtractClientIP(r, cfg); got != "203.0.113.7" {
		t.Errorf("ExtractClientIP() = %q, want RemoteAddr when peer is untrusted", got)
	}
}

func TestExtractClientIP_TrustedProxyForwardedFor(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "10.1.2.3:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.20, 10.1.2.3")

	cfg := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}
	if got := ExtractClientIP(r, cfg); got != "198.51.100.20" {
		t.Errorf("ExtractClientIP() = %q, want first forwarded IP", got)
	}
}

func TestExtractClientIP_TrustedProxyRealIP(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "10.1.2.3:443"
	r.Header.Set("X-Real-IP", "198.51.100.30")

	cfg := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}
	if got := ExtractClientIP(r, cfg); got != "198.51.100.30" {
		t.Errorf("ExtractClientIP() = %q, want X-Real-IP value", got)
	}
}

func TestExtractClientIP_InvalidForwardedValue(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "10.1.2.3:443"
	r.Header.Set("X-Forwarded-For", "not-an-ip")

	cfg := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}
	if got := ExtractClientIP(r, cfg); got != "10.1.2.3" {
		t.Errorf("ExtractClientIP() = %q, want fallback to RemoteAddr", got)
	}
}

package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"forwarded single", "203.0.113.7", "10.0.0.1:4000", "203.0.113.7"},
		{"forwarded chain takes first", " 203.0.113.7 , 198.51.100.2", "10.0.0.1:4000", "203.0.113.7"},
		{"remote addr host", "", "192.0.2.10:5555", "192.0.2.10"},
		{"remote addr ipv6", "", "[2001:db8::1]:443", "2001:db8::1"},
		{"remote addr without port", "", "192.0.2.11", "192.0.2.11"},
		{"empty forwarded entry falls back", " , 198.51.100.2", "192.0.2.12:1", "192.0.2.12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestExtractAccessToken(t *testing.T) {
	t.Run("cookie wins over header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: AccessTokenCookieName, Value: "from-cookie"})
		r.Header.Set("Authorization", "Bearer from-header")
		assert.Equal(t, "from-cookie", ExtractAccessToken(r))
	})

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "bearer abc.def.ghi")
		assert.Equal(t, "abc.def.ghi", ExtractAccessToken(r))
		assert.True(t, HasSessionIndicator(r))
	})

	t.Run("other schemes ignored", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		assert.Empty(t, ExtractAccessToken(r))
		assert.False(t, HasSessionIndicator(r))
	})
}

func TestGetClientFingerprint(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	r.Header.Set("User-Agent", "test-agent/1.0")

	fp := GetClientFingerprint(r)
	assert.Equal(t, ClientFingerprint{IP: "192.0.2.1", UserAgent: "test-agent/1.0"}, fp)
}

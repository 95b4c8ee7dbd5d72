package utils

import (
	"net"
	"net/http"
	"strings"
)

// ClientFingerprint is the device binding recorded with every issued
// session: the caller's IP and its User-Agent header.
type ClientFingerprint struct {
	IP        string
	UserAgent string
}

// GetClientFingerprint reads the IP and User-Agent of the request.
func GetClientFingerprint(r *http.Request) ClientFingerprint {
	return ClientFingerprint{
		IP:        ClientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// ClientIP returns the first X-Forwarded-For entry when present, otherwise
// the host part of the connection address.
func ClientIP(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		first := strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
		if first != "" {
			return first
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port (unit tests, unix sockets)
		return r.RemoteAddr
	}
	return ip
}

// ExtractAccessToken returns the access token from the access cookie or,
// failing that, an "Authorization: Bearer" header.
func ExtractAccessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

// HasSessionIndicator reports whether the request carries something that
// looks like a session. It does not validate the token, so an expired or
// forged token still counts.
func HasSessionIndicator(r *http.Request) bool {
	return ExtractAccessToken(r) != ""
}

// CookieValue returns the named cookie's value or "".
func CookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

package utils

import (
	"net/http"
	"time"
)

const (
	AccessTokenCookieName     = "__Host-accessToken"
	RefreshTokenCookieName    = "auth_refreshToken"
	RememberMeTokenCookieName = "auth_rememberMeToken"
)

// SessionCookies is the set of tokens written to the browser after a
// login or rotation. Empty values are skipped.
type SessionCookies struct {
	AccessToken     string
	RefreshToken    string
	RememberMeToken string

	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RememberMeTTL time.Duration

	// RefreshPath scopes the refresh and remember-me cookies to the
	// endpoints that consume them.
	RefreshPath    string
	RememberMePath string
}

// SetAuthCookies writes the session cookies plus the security headers for
// token-bearing responses. With sameSiteHighSecurity off the cookies are
// SameSite=None and Partitioned so cross-site web clients keep them.
func SetAuthCookies(w http.ResponseWriter, c SessionCookies, sameSiteHighSecurity bool) {
	accessPolicy, longLivedPolicy := sameSitePolicies(sameSiteHighSecurity)
	partitioned := !sameSiteHighSecurity

	if c.AccessToken != "" {
		writeCookie(w, AccessTokenCookieName, c.AccessToken, "/", c.AccessTTL, accessPolicy, partitioned)
	}
	if c.RefreshToken != "" {
		writeCookie(w, RefreshTokenCookieName, c.RefreshToken, c.RefreshPath, c.RefreshTTL, longLivedPolicy, partitioned)
	}
	if c.RememberMeToken != "" {
		writeCookie(w, RememberMeTokenCookieName, c.RememberMeToken, c.RememberMePath, c.RememberMeTTL, longLivedPolicy, partitioned)
	}

	Logger.Debugf("[cookies] SetAuthCookies: accessSameSite=%v, partitioned=%t", accessPolicy, partitioned)
	addSecurityHeaders(w)
}

// ClearAuthCookies expires every session cookie (logout).
func ClearAuthCookies(w http.ResponseWriter, refreshPath, rememberMePath string, sameSiteHighSecurity bool) {
	accessPolicy, longLivedPolicy := sameSitePolicies(sameSiteHighSecurity)
	partitioned := !sameSiteHighSecurity

	writeCookie(w, AccessTokenCookieName, "", "/", -1, accessPolicy, partitioned)
	writeCookie(w, RefreshTokenCookieName, "", refreshPath, -1, longLivedPolicy, partitioned)
	if rememberMePath != "" {
		writeCookie(w, RememberMeTokenCookieName, "", rememberMePath, -1, longLivedPolicy, partitioned)
	}

	addSecurityHeaders(w)
}

func sameSitePolicies(high bool) (access, longLived http.SameSite) {
	if !high {
		return http.SameSiteNoneMode, http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode, http.SameSiteStrictMode
}

// writeCookie sets one hardened cookie. A negative ttl deletes it.
func writeCookie(
	w http.ResponseWriter,
	name, value, path string,
	ttl time.Duration,
	sameSite http.SameSite,
	partitioned bool,
) {
	cookie := &http.Cookie{
		Name:        name,
		Value:       value,
		Path:        path,
		Secure:      true,
		HttpOnly:    true,
		SameSite:    sameSite,
		Partitioned: partitioned,
	}
	if ttl < 0 {
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
	} else {
		cookie.MaxAge = int(ttl.Seconds())
		cookie.Expires = time.Now().Add(ttl).UTC()
	}
	http.SetCookie(w, cookie)
}

func addSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")

	h.Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'none'; frame-ancestors 'none'")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")

	h.Set("Cross-Origin-Opener-Policy", "same-origin")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

// ClearRememberMeCookie expires only the remember-me cookie.
func ClearRememberMeCookie(w http.ResponseWriter, rememberMePath string, sameSiteHighSecurity bool) {
	_, longLivedPolicy := sameSitePolicies(sameSiteHighSecurity)
	writeCookie(w, RememberMeTokenCookieName, "", rememberMePath, -1, longLivedPolicy, !sameSiteHighSecurity)
	addSecurityHeaders(w)
}

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/repositories"
	"github.com/dcurp/api/internal/services"
	"github.com/dcurp/api/internal/utils"
)

var testRule = models.RateLimitRule{
	AuthenticatedLimit:    4,
	UnauthenticatedLimit:  2,
	AuthenticatedWindow:   time.Minute,
	UnauthenticatedWindow: time.Minute,
}

// stubLimiter records the last request and answers with fixed values.
type stubLimiter struct {
	decision *services.RateLimitDecision
	err      error
	last     services.RateLimitRequest
}

func (s *stubLimiter) Check(_ context.Context, req services.RateLimitRequest, _ models.RateLimitRule) (*services.RateLimitDecision, error) {
	s.last = req
	return s.decision, s.err
}

func (s *stubLimiter) AddToBlacklist(context.Context, string) error      { return nil }
func (s *stubLimiter) RemoveFromBlacklist(context.Context, string) error { return nil }

type handlerSpy struct {
	calls int
}

func (h *handlerSpy) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.calls++
	w.WriteHeader(http.StatusNoContent)
}

func serve(t *testing.T, h http.Handler, configure func(r *http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/auth/v1/login", nil)
	r.RemoteAddr = "192.0.2.50:41000"
	if configure != nil {
		configure(r)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var body utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestRateLimitMiddlewareAllowed(t *testing.T) {
	reset := time.Unix(1_800_000_000, 0)
	limiter := &stubLimiter{decision: &services.RateLimitDecision{Allowed: true, Limit: 2, Remaining: 1, ResetAt: reset}}
	spy := &handlerSpy{}

	w := serve(t, RateLimitMiddleware(limiter, "login", testRule)(spy), func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	})

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, spy.calls)
	assert.Equal(t, "2", w.Header().Get(HeaderRateLimitLimit))
	assert.Equal(t, "1", w.Header().Get(HeaderRateLimitRemaining))
	assert.Equal(t, "1800000000", w.Header().Get(HeaderRateLimitReset))
	assert.Empty(t, w.Header().Get(HeaderRetryAfter))

	assert.Equal(t, services.RateLimitRequest{Scope: "login", IP: "203.0.113.9"}, limiter.last)
}

func TestRateLimitMiddlewareSessionIndicator(t *testing.T) {
	limiter := &stubLimiter{decision: &services.RateLimitDecision{Allowed: true}}
	serve(t, RateLimitMiddleware(limiter, "session", testRule)(&handlerSpy{}), func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: utils.AccessTokenCookieName, Value: "anything"})
	})
	assert.True(t, limiter.last.IsAuthenticated)
	assert.Equal(t, "192.0.2.50", limiter.last.IP)
}

func TestRateLimitMiddlewareErrors(t *testing.T) {
	tests := []struct {
		name     string
		decision *services.RateLimitDecision
		err      error
		status   int
		code     string
	}{
		{
			name:     "limited",
			decision: &services.RateLimitDecision{Limit: 2, Remaining: 0, ResetAt: time.Unix(1_800_000_030, 0), RetryAfter: 2500 * time.Millisecond},
			err:      utils.ErrRateLimitExceeded,
			status:   http.StatusTooManyRequests,
			code:     utils.ErrCodeRateLimitExceeded,
		},
		{
			name:   "blacklisted",
			err:    utils.ErrBlacklisted,
			status: http.StatusForbidden,
			code:   utils.ErrCodeAccessDenied,
		},
		{
			name:   "store down",
			err:    fmt.Errorf("%w: dial tcp: refused", utils.ErrStorageUnavailable),
			status: http.StatusServiceUnavailable,
			code:   utils.ErrCodeServiceUnavailable,
		},
		{
			name:   "unexpected error",
			err:    errors.New("boom"),
			status: http.StatusServiceUnavailable,
			code:   utils.ErrCodeServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := &handlerSpy{}
			limiter := &stubLimiter{decision: tt.decision, err: tt.err}
			w := serve(t, RateLimitMiddleware(limiter, "login", testRule)(spy), nil)

			assert.Equal(t, tt.status, w.Code)
			assert.Zero(t, spy.calls, "downstream handler must not run")
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}

	t.Run("limited carries quota headers", func(t *testing.T) {
		limiter := &stubLimiter{
			decision: &services.RateLimitDecision{Limit: 2, ResetAt: time.Unix(1_800_000_030, 0), RetryAfter: 2500 * time.Millisecond},
			err:      utils.ErrRateLimitExceeded,
		}
		w := serve(t, RateLimitMiddleware(limiter, "login", testRule)(&handlerSpy{}), nil)
		assert.Equal(t, "2", w.Header().Get(HeaderRateLimitLimit))
		assert.Equal(t, "0", w.Header().Get(HeaderRateLimitRemaining))
		assert.Equal(t, "1800000030", w.Header().Get(HeaderRateLimitReset))
		assert.Equal(t, "3", w.Header().Get(HeaderRetryAfter))
	})
}

func TestRateLimitMiddlewareWithSQLiteStore(t *testing.T) {
	repo, err := repositories.NewSQLiteRateLimitRepository(filepath.Join(t.TempDir(), "rl.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	spy := &handlerSpy{}
	h := RateLimitMiddleware(services.NewRateLimiterService(repo), "login", testRule)(spy)

	for i := 0; i < testRule.UnauthenticatedLimit; i++ {
		w := serve(t, h, nil)
		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, strconv.Itoa(testRule.UnauthenticatedLimit-i-1), w.Header().Get(HeaderRateLimitRemaining))
	}

	w := serve(t, h, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get(HeaderRateLimitRemaining))
	retryAfter, err := strconv.Atoi(w.Header().Get(HeaderRetryAfter))
	require.NoError(t, err)
	assert.InDelta(t, 60, retryAfter, 2)
	assert.Equal(t, testRule.UnauthenticatedLimit, spy.calls)

	// Two more blocked attempts reach the violation threshold.
	serve(t, h, nil)
	serve(t, h, nil)
	w = serve(t, h, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, utils.ErrCodeAccessDenied, decodeError(t, w).Code)
}

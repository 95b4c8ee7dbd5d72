package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/services"
	"github.com/dcurp/api/internal/utils"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitMiddleware gates every request through limiter using rule. scope
// names the counter keyspace, so routes with different rules never share a
// counter.
//
// Blocked requests get 429, blacklisted IPs 403 and store failures 503; the
// wrapped handler only runs for allowed requests.
func RateLimitMiddleware(limiter services.RateLimiterService, scope string, rule models.RateLimitRule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := services.RateLimitRequest{
				Scope:           scope,
				IP:              utils.ClientIP(r),
				IsAuthenticated: utils.HasSessionIndicator(r),
			}

			decision, err := limiter.Check(r.Context(), req, rule)
			switch {
			case err == nil:
				writeQuotaHeaders(w, decision)
				next.ServeHTTP(w, r)

			case errors.Is(err, utils.ErrRateLimitExceeded):
				writeQuotaHeaders(w, decision)
				w.Header().Set(HeaderRetryAfter, strconv.Itoa(services.RetryAfterSeconds(decision.RetryAfter)))
				utils.RespondErrorWithCode(
					w, http.StatusTooManyRequests, utils.ErrCodeRateLimitExceeded,
					"Too many requests, please try again later", nil,
				)

			case errors.Is(err, utils.ErrBlacklisted):
				utils.RespondErrorWithCode(
					w, http.StatusForbidden, utils.ErrCodeAccessDenied,
					"Access denied", nil,
				)

			default:
				utils.RespondErrorWithCode(
					w, http.StatusServiceUnavailable, utils.ErrCodeServiceUnavailable,
					"Service temporarily unavailable", nil, err,
				)
			}
		})
	}
}

func writeQuotaHeaders(w http.ResponseWriter, d *services.RateLimitDecision) {
	if d == nil {
		return
	}
	h := w.Header()
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
}

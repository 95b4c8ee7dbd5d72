package middleware

import (
	"context"
	"net/http"

	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/services"
	"github.com/dcurp/api/internal/utils"
)

type contextKey string

const (
	ContextKeyUser        = contextKey("user")
	ContextKeyUserStatus  = contextKey("userStatus")
	ContextKeyAccessToken = contextKey("accessToken")
)

// AuthMiddleware requires a valid access token of the given scope bound to
// the caller's IP and user agent. Failures answer 401 with the token error
// code and, when known, the user status snapshot.
func AuthMiddleware(tokens services.TokenService, scope models.TokenScope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := utils.ExtractAccessToken(r)
			res, err := tokens.ValidateAccess(r.Context(), token, accessCheck(r, scope))
			if err != nil {
				utils.RespondTokenError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), token, res)))
		})
	}
}

// OptionalAuthMiddleware attaches the session when the access token
// validates and otherwise lets the request through as a guest. Only
// storage failures abort the request.
func OptionalAuthMiddleware(tokens services.TokenService, scope models.TokenScope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := utils.ExtractAccessToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := tokens.ValidateAccess(r.Context(), token, accessCheck(r, scope))
			if err != nil {
				tokErr, ok := utils.AsTokenError(err)
				if !ok {
					utils.RespondErrorWithCode(
						w, http.StatusInternalServerError, utils.ErrCodeInternal,
						"An unexpected error occurred", nil, err,
					)
					return
				}
				utils.Logger.WithField("code", tokErr.Code).Debug("optional auth: continuing as guest")
				ctx := r.Context()
				if tokErr.UserStatus != nil {
					ctx = context.WithValue(ctx, ContextKeyUserStatus, *tokErr.UserStatus)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), token, res)))
		})
	}
}

func accessCheck(r *http.Request, scope models.TokenScope) services.AccessCheck {
	fp := utils.GetClientFingerprint(r)
	return services.AccessCheck{
		Scope:     scope,
		IP:        fp.IP,
		UserAgent: fp.UserAgent,
	}
}

func withSession(ctx context.Context, token string, res *services.AccessValidation) context.Context {
	ctx = context.WithValue(ctx, ContextKeyUser, res.User)
	ctx = context.WithValue(ctx, ContextKeyUserStatus, res.Status)
	return context.WithValue(ctx, ContextKeyAccessToken, token)
}

// UserFromContext returns the authenticated user, or nil for guests.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(ContextKeyUser).(*models.User)
	return u
}

// UserStatusFromContext returns the best-known user status, if any.
func UserStatusFromContext(ctx context.Context) (utils.UserStatus, bool) {
	s, ok := ctx.Value(ContextKeyUserStatus).(utils.UserStatus)
	return s, ok
}

// AccessTokenFromContext returns the validated access token.
func AccessTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(ContextKeyAccessToken).(string)
	return t
}

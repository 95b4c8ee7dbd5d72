package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/services"
	"github.com/dcurp/api/internal/utils"
)

// stubTokenService only implements ValidateAccess; the middleware needs
// nothing else.
type stubTokenService struct {
	services.TokenService
	res       *services.AccessValidation
	err       error
	lastToken string
	lastCheck services.AccessCheck
}

func (s *stubTokenService) ValidateAccess(_ context.Context, token string, check services.AccessCheck) (*services.AccessValidation, error) {
	s.lastToken = token
	s.lastCheck = check
	return s.res, s.err
}

func validSession() *services.AccessValidation {
	return &services.AccessValidation{
		User:   &models.User{ID: uuid.New(), Email: "jane@example.com", IsActive: true, IsEmailVerified: true},
		Status: utils.UserStatus{IsActive: true, IsVerified: true, TokenStatus: utils.TokenStatusValid},
	}
}

type contextCapture struct {
	user   *models.User
	status *utils.UserStatus
	token  string
	called bool
}

func (c *contextCapture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.called = true
	c.user = UserFromContext(r.Context())
	if s, ok := UserStatusFromContext(r.Context()); ok {
		c.status = &s
	}
	c.token = AccessTokenFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func authRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/auth/v1/session", nil)
	r.RemoteAddr = "198.51.100.7:5000"
	r.Header.Set("User-Agent", "test-agent")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("valid token populates context", func(t *testing.T) {
		tokens := &stubTokenService{res: validSession()}
		capture := &contextCapture{}
		w := httptest.NewRecorder()
		AuthMiddleware(tokens, models.ScopeUser)(capture).ServeHTTP(w, authRequest("tok"))

		assert.Equal(t, http.StatusOK, w.Code)
		require.True(t, capture.called)
		assert.Equal(t, tokens.res.User.ID, capture.user.ID)
		assert.Equal(t, "tok", capture.token)
		assert.Equal(t, services.AccessCheck{Scope: models.ScopeUser, IP: "198.51.100.7", UserAgent: "test-agent"}, tokens.lastCheck)
	})

	t.Run("token error answers 401 with status", func(t *testing.T) {
		status := &utils.UserStatus{IsActive: true, IsVerified: true, TokenStatus: utils.TokenStatusInvalid}
		tokens := &stubTokenService{err: utils.NewTokenError(utils.TokenIPMismatch, status, nil)}
		capture := &contextCapture{}
		w := httptest.NewRecorder()
		AuthMiddleware(tokens, models.ScopeUser)(capture).ServeHTTP(w, authRequest("tok"))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, capture.called)

		var body struct {
			Code    string `json:"code"`
			Details struct {
				UserStatus utils.UserStatus `json:"user_status"`
			} `json:"details"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, string(utils.TokenIPMismatch), body.Code)
		assert.Equal(t, *status, body.Details.UserStatus)
	})

	t.Run("missing token", func(t *testing.T) {
		tokens := &stubTokenService{err: utils.NewTokenError(utils.TokenRequired, nil, nil)}
		w := httptest.NewRecorder()
		AuthMiddleware(tokens, models.ScopeAdmin)(&contextCapture{}).ServeHTTP(w, authRequest(""))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, models.ScopeAdmin, tokens.lastCheck.Scope)
	})

	t.Run("storage failure answers 500", func(t *testing.T) {
		tokens := &stubTokenService{err: errors.New("db down")}
		w := httptest.NewRecorder()
		AuthMiddleware(tokens, models.ScopeUser)(&contextCapture{}).ServeHTTP(w, authRequest("tok"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestOptionalAuthMiddleware(t *testing.T) {
	t.Run("no token is a guest without lookup", func(t *testing.T) {
		tokens := &stubTokenService{err: errors.New("must not be called")}
		capture := &contextCapture{}
		w := httptest.NewRecorder()
		OptionalAuthMiddleware(tokens, models.ScopeUser)(capture).ServeHTTP(w, authRequest(""))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, capture.user)
		assert.Nil(t, capture.status)
		assert.Empty(t, tokens.lastToken)
	})

	t.Run("valid token", func(t *testing.T) {
		tokens := &stubTokenService{res: validSession()}
		capture := &contextCapture{}
		OptionalAuthMiddleware(tokens, models.ScopeUser)(capture).ServeHTTP(httptest.NewRecorder(), authRequest("tok"))
		require.NotNil(t, capture.user)
		assert.Equal(t, utils.TokenStatusValid, capture.status.TokenStatus)
	})

	t.Run("token error degrades to guest keeping status", func(t *testing.T) {
		status := &utils.UserStatus{IsActive: false, IsVerified: true, TokenStatus: utils.TokenStatusInvalid}
		tokens := &stubTokenService{err: utils.NewTokenError(utils.TokenAccountInactive, status, nil)}
		capture := &contextCapture{}
		w := httptest.NewRecorder()
		OptionalAuthMiddleware(tokens, models.ScopeUser)(capture).ServeHTTP(w, authRequest("tok"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, capture.user)
		require.NotNil(t, capture.status)
		assert.Equal(t, *status, *capture.status)
		assert.Empty(t, capture.token)
	})

	t.Run("storage failure answers 500", func(t *testing.T) {
		tokens := &stubTokenService{err: errors.New("db down")}
		capture := &contextCapture{}
		w := httptest.NewRecorder()
		OptionalAuthMiddleware(tokens, models.ScopeUser)(capture).ServeHTTP(w, authRequest("tok"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.False(t, capture.called)
	})
}

package controllers

import (
	"errors"
	"net/http"

	"github.com/dcurp/api/internal/config"
	"github.com/dcurp/api/internal/dtos"
	"github.com/dcurp/api/internal/middleware"
	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/services"
	"github.com/dcurp/api/internal/utils"
)

type AuthController struct {
	cfg           *config.Config
	authService   services.AuthService
	tokenService  services.TokenService
	notifications services.NotificationService
}

func NewAuthController(
	cfg *config.Config,
	authService services.AuthService,
	tokenService services.TokenService,
	notifications services.NotificationService,
) *AuthController {
	return &AuthController{
		cfg:           cfg,
		authService:   authService,
		tokenService:  tokenService,
		notifications: notifications,
	}
}

// Login handles POST /auth/v1/login.
func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var req dtos.LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	set, user, err := c.authService.Login(r.Context(), services.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		Scope:      models.ScopeUser,
		RememberMe: req.RememberMe,
		Client:     utils.GetClientFingerprint(r),
	})
	if err != nil {
		respondLoginError(w, err)
		return
	}

	setSessionCookies(w, c.cfg, set, userCookiePath)
	utils.RespondWithJSON(w, http.StatusOK, dtos.LoginResponse{
		User:                dtos.NewUserSummary(user),
		RememberMeExpiresAt: set.RememberMeExpiresAt,
	})
}

// RefreshToken handles POST /auth/v1/refresh_token. The new pair is bound
// to the IP and user agent of this request.
func (c *AuthController) RefreshToken(w http.ResponseWriter, r *http.Request) {
	refresh := utils.CookieValue(r, utils.RefreshTokenCookieName)
	if refresh == "" {
		utils.RespondErrorWithCode(w, http.StatusUnauthorized, string(utils.TokenRequired), "Missing refresh cookie", nil)
		return
	}

	set, err := c.tokenService.RotateRefresh(r.Context(), refresh, models.ScopeUser, utils.GetClientFingerprint(r))
	if err != nil {
		utils.RespondTokenError(w, err)
		return
	}

	setSessionCookies(w, c.cfg, set, userCookiePath)
	utils.RespondWithJSON(w, http.StatusOK, dtos.SessionRenewedResponse{
		Message:             "Session refreshed",
		RememberMeExpiresAt: set.RememberMeExpiresAt,
	})
}

// RedeemRememberMe handles POST /auth/v1/remember_me: a password-less login
// that starts the next version of the remember-me chain.
func (c *AuthController) RedeemRememberMe(w http.ResponseWriter, r *http.Request) {
	remember := utils.CookieValue(r, utils.RememberMeTokenCookieName)
	if remember == "" {
		utils.RespondErrorWithCode(w, http.StatusUnauthorized, string(utils.TokenRequired), "Missing remember-me cookie", nil)
		return
	}

	set, err := c.tokenService.RotateRememberMe(r.Context(), remember, utils.GetClientFingerprint(r))
	if err != nil {
		if errors.Is(err, utils.ErrTokenRememberMeExpired) || errors.Is(err, utils.ErrTokenExpired) {
			utils.ClearRememberMeCookie(w, userCookiePath, c.cfg.LDFlag_CORSHighSecurity)
		}
		utils.RespondTokenError(w, err)
		return
	}

	setSessionCookies(w, c.cfg, set, userCookiePath)
	utils.RespondWithJSON(w, http.StatusOK, dtos.SessionRenewedResponse{
		Message:             "Session restored",
		RememberMeExpiresAt: set.RememberMeExpiresAt,
	})
}

// RevokeRememberMe handles DELETE /auth/v1/remember_me.
func (c *AuthController) RevokeRememberMe(w http.ResponseWriter, r *http.Request) {
	remember := utils.CookieValue(r, utils.RememberMeTokenCookieName)
	err := c.tokenService.RevokeRememberMeToken(r.Context(), remember)
	switch {
	case err == nil:
	case errors.Is(err, utils.ErrRememberMeTokenNotFound):
		utils.ClearRememberMeCookie(w, userCookiePath, c.cfg.LDFlag_CORSHighSecurity)
		utils.RespondErrorWithCode(w, http.StatusNotFound, string(utils.TokenRememberMeNotFound), "Remember-me session not found", nil)
		return
	default:
		utils.RespondTokenError(w, err)
		return
	}

	utils.ClearRememberMeCookie(w, userCookiePath, c.cfg.LDFlag_CORSHighSecurity)
	utils.RespondWithJSON(w, http.StatusOK, dtos.LogoutResponse{Message: "Remember-me session revoked", Revoked: 1})
}

// Logout handles POST /auth/v1/logout. Cookies are cleared whatever the
// outcome so a broken session never sticks in the browser.
func (c *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	c.logout(w, r, models.ScopeUser, userCookiePath)
}

func (c *AuthController) logout(w http.ResponseWriter, r *http.Request, scope models.TokenScope, cookiePath string) {
	revoked, err := c.tokenService.RevokeUserTokens(r.Context(), services.RevokeRequest{
		Scope:           scope,
		AccessToken:     utils.ExtractAccessToken(r),
		RefreshToken:    utils.CookieValue(r, utils.RefreshTokenCookieName),
		RememberMeToken: utils.CookieValue(r, utils.RememberMeTokenCookieName),
	})
	utils.ClearAuthCookies(w, cookiePath, cookiePath, c.cfg.LDFlag_CORSHighSecurity)

	switch {
	case err == nil:
		utils.RespondWithJSON(w, http.StatusOK, dtos.LogoutResponse{Message: "Logged out successfully", Revoked: revoked})
	case errors.Is(err, utils.ErrNoTokensFound):
		utils.RespondErrorWithCode(w, http.StatusNotFound, string(utils.TokenNoTokensFound), "No active session found", nil)
	default:
		utils.RespondTokenError(w, err)
	}
}

// LogoutAll handles POST /auth/v1/logout_all (authenticated). It revokes
// every remember-me session of the user and e-mails a security notice.
func (c *AuthController) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		utils.RespondErrorWithCode(w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Authentication required", nil)
		return
	}

	revoked, err := c.tokenService.RevokeAllRememberMeTokens(r.Context(), user.ID)
	if err != nil && !errors.Is(err, utils.ErrRememberMeTokenNotFound) {
		utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to revoke sessions", nil, err)
		return
	}

	if revoked > 0 {
		ip := utils.ClientIP(r)
		if nErr := c.notifications.SendLogoutAllNotice(r.Context(), user.Email, ip, revoked); nErr != nil {
			utils.Logger.WithError(nErr).Warn("Failed to send logout-all security notice")
		}
	}

	utils.ClearRememberMeCookie(w, userCookiePath, c.cfg.LDFlag_CORSHighSecurity)
	utils.RespondWithJSON(w, http.StatusOK, dtos.LogoutResponse{Message: "Remembered sessions revoked", Revoked: revoked})
}

// VerifySession handles POST /auth/v1/session/verify: full access-token
// validation, optionally pinned to an e-mail address.
func (c *AuthController) VerifySession(w http.ResponseWriter, r *http.Request) {
	var req dtos.VerifySessionRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}

	fp := utils.GetClientFingerprint(r)
	res, err := c.tokenService.ValidateAccess(r.Context(), utils.ExtractAccessToken(r), services.AccessCheck{
		Scope:     models.ScopeUser,
		Email:     req.Email,
		IP:        fp.IP,
		UserAgent: fp.UserAgent,
	})
	if err != nil {
		utils.RespondTokenError(w, err)
		return
	}

	summary := dtos.NewUserSummary(res.User)
	utils.RespondWithJSON(w, http.StatusOK, dtos.SessionResponse{
		Authenticated: true,
		User:          &summary,
		UserStatus:    &res.Status,
	})
}

// GetSession handles GET /auth/v1/session behind OptionalAuthMiddleware.
// Guests get authenticated=false and, when known, why their token failed.
func (c *AuthController) GetSession(w http.ResponseWriter, r *http.Request) {
	resp := dtos.SessionResponse{}
	if user := middleware.UserFromContext(r.Context()); user != nil {
		summary := dtos.NewUserSummary(user)
		resp.Authenticated = true
		resp.User = &summary
	}
	if status, ok := middleware.UserStatusFromContext(r.Context()); ok {
		resp.UserStatus = &status
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

func respondLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, utils.ErrInvalidCredentials):
		utils.RespondErrorWithCode(w, http.StatusUnauthorized, utils.ErrCodeInvalidCredentials, "Invalid email or password", nil)
	case errors.Is(err, utils.ErrAccountInactive):
		utils.RespondErrorWithCode(w, http.StatusForbidden, utils.ErrCodeAccountInactive, "Account is inactive or unverified", nil)
	case errors.Is(err, utils.ErrNotAdmin):
		utils.RespondErrorWithCode(w, http.StatusForbidden, utils.ErrCodeForbidden, "Insufficient permissions", nil)
	default:
		utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Login failed", nil, err)
	}
}
